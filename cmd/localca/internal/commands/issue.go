package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfeidau/localca/internal/ca"
	"github.com/wolfeidau/localca/internal/logger"
)

// IssueCmd signs a key and certificate for a single domain.
type IssueCmd struct {
	Domain string   `arg:"" help:"domain to issue a certificate for, used as the common name"`
	SANs   []string `name:"san" help:"additional subject alternative name, DNS name or IP (repeatable)"`
}

func (c *IssueCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	issuer, err := ca.NewIssuer(globals.Config, globals.store(), log)
	if err != nil {
		return err
	}

	leaf, err := issuer.Issue(ctx, c.Domain, c.SANs)
	if err != nil {
		return fmt.Errorf("issue %s: %w", c.Domain, err)
	}

	out := globals.stdout()
	fmt.Fprintf(out, "Certificate issued for %s\n", leaf.CommonName)
	fmt.Fprintf(out, "  SANs:        %s\n", strings.Join(leaf.SubjectAltNames, ", "))
	fmt.Fprintf(out, "  Key:         %s\n", leaf.KeyPath)
	fmt.Fprintf(out, "  Certificate: %s\n", leaf.CertPath)
	fmt.Fprintf(out, "  Issuer:      %s\n", leaf.Issuer)
	fmt.Fprintf(out, "  Expires:     %s\n", formatDate(leaf.NotAfter))

	return nil
}
