package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/localca/internal/ca"
	"github.com/wolfeidau/localca/internal/logger"
)

// InitCmd creates the root CA, leaving an existing one untouched unless forced.
type InitCmd struct {
	Force bool `help:"replace an existing root CA; previously issued certificates stop validating" default:"false"`
}

func (i *InitCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	mgr, err := ca.NewManager(globals.Config, globals.store(), log)
	if err != nil {
		return err
	}

	root, err := mgr.Initialize(ctx, i.Force)
	if err != nil {
		return fmt.Errorf("init root CA: %w", err)
	}

	out := globals.stdout()
	switch root.Status {
	case ca.StatusAlreadyPresent:
		fmt.Fprintf(out, "Root CA already present (use --force to replace)\n")
	case ca.StatusReplaced:
		fmt.Fprintf(out, "Root CA replaced\n")
	default:
		fmt.Fprintf(out, "Root CA created\n")
	}

	fmt.Fprintf(out, "  Subject:     %s\n", root.CommonName)
	fmt.Fprintf(out, "  Key:         %s\n", root.KeyPath)
	fmt.Fprintf(out, "  Certificate: %s\n", root.CertPath)
	fmt.Fprintf(out, "  Fingerprint: %s\n", root.Fingerprint)
	fmt.Fprintf(out, "  Expires:     %s\n", formatDate(root.NotAfter))

	return nil
}
