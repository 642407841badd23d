package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wolfeidau/localca/internal/ca"
	"github.com/wolfeidau/localca/internal/logger"
	"gopkg.in/yaml.v3"
)

// ListCmd prints every issued certificate.
type ListCmd struct {
	Format string `help:"output format" default:"table" enum:"table,json,yaml"`
}

func (l *ListCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	leaves, err := ca.List(globals.store())
	if err != nil {
		return fmt.Errorf("list certificates: %w", err)
	}

	out := globals.stdout()

	switch l.Format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(leaves)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(leaves)
	default:
		printLeaves(out, leaves, time.Now())
		return nil
	}
}

func printLeaves(out io.Writer, leaves []ca.LeafCertificate, now time.Time) {
	if len(leaves) == 0 {
		fmt.Fprintln(out, "No certificates issued")
		return
	}

	fmt.Fprintf(out, "%-30s %-22s %-9s %-45s %s\n", "DOMAIN", "EXPIRES", "DAYS", "FINGERPRINT", "SANS")
	fmt.Fprintln(out, strings.Repeat("-", 140))

	for _, leaf := range leaves {
		days := fmt.Sprintf("%d", leaf.DaysRemaining(now))
		if leaf.Expired(now) {
			days = "expired"
		}

		fmt.Fprintf(out, "%-30s %-22s %-9s %-45s %s\n",
			truncateString(leaf.CommonName, 30),
			formatDate(leaf.NotAfter),
			days,
			leaf.Fingerprint,
			strings.Join(leaf.SubjectAltNames, ","),
		)
	}

	fmt.Fprintf(out, "\nTotal certificates: %d\n", len(leaves))
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
