package commands

import (
	"io"
	"os"
	"time"

	"github.com/wolfeidau/localca/internal/config"
	"github.com/wolfeidau/localca/internal/store"
)

type Globals struct {
	Debug   bool
	Version string
	Home    string
	Config  config.Config

	// Stdout receives user facing output; nil means os.Stdout.
	Stdout io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.Stdout != nil {
		return g.Stdout
	}
	return os.Stdout
}

func (g *Globals) store() *store.FileStore {
	return store.NewFileStore(g.Config.RootDir, g.Config.CertsDir)
}

// CAFlags are the settings shared by every command. Directory flags left empty are
// derived from Home.
type CAFlags struct {
	Home           string `help:"base directory for CA state" default:"/data" env:"CA_HOME"`
	RootDir        string `help:"root CA directory (default: <home>/rootCA)" env:"CA_ROOT_DIR"`
	CertsDir       string `help:"issued certificates directory (default: <home>/certificates)" env:"CA_CERTS_DIR"`
	RootBits       int    `help:"root RSA key size in bits" default:"4096" env:"CA_ROOT_BITS"`
	LeafBits       int    `help:"leaf RSA key size in bits" default:"2048" env:"CA_LEAF_BITS"`
	RootDays       int    `help:"root certificate validity in days" default:"3650" env:"CA_ROOT_DAYS"`
	LeafDays       int    `help:"leaf certificate validity in days" default:"825" env:"CA_LEAF_DAYS"`
	RootCommonName string `help:"root certificate common name" default:"localca Root" env:"CA_ROOT_CN" name:"root-cn"`
}

// Config resolves the flags into the configuration passed to the CA components.
func (f CAFlags) Config() config.Config {
	cfg := config.Default(f.Home)

	if f.RootDir != "" {
		cfg.RootDir = f.RootDir
	}
	if f.CertsDir != "" {
		cfg.CertsDir = f.CertsDir
	}
	cfg.RootKeyBits = f.RootBits
	cfg.LeafKeyBits = f.LeafBits
	cfg.RootValidityDays = f.RootDays
	cfg.LeafValidityDays = f.LeafDays
	cfg.RootCommonName = f.RootCommonName

	return cfg
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}
