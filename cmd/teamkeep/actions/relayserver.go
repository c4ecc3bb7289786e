package actions

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/piprate/teamkeep/cmd"
	"github.com/piprate/teamkeep/relay"
	"github.com/urfave/cli/v2"
)

// relayConfig is the koanf-loaded shape of a relay config file, grounded on
// the teacher's cmd/lockerd reading a $HOME/.metalocker/{name}.yaml file
// with the file/yaml koanf providers.
type relayConfig struct {
	ListenAddr     string
	AllowedOrigins []string
}

func loadRelayConfig(configName string) (relayConfig, error) {
	dir, err := cmd.ConfigDir()
	if err != nil {
		return relayConfig{}, err
	}

	cfg := koanf.New(".")
	path := filepath.Join(dir, fmt.Sprintf("%s.yaml", configName))
	if _, statErr := os.Stat(path); statErr == nil {
		if err := cfg.Load(file.Provider(path), yaml.Parser()); err != nil {
			return relayConfig{}, fmt.Errorf("relay: load config %s: %w", path, err)
		}
	}

	listenAddr := cfg.String("listenAddr")
	if listenAddr == "" {
		listenAddr = ":8901"
	}
	var origins []string
	if raw := cfg.String("allowedOrigins"); raw != "" {
		origins = strings.Split(raw, ",")
	}
	return relayConfig{ListenAddr: listenAddr, AllowedOrigins: origins}, nil
}

// RunRelay loads a relay config file (if present) from the teamkeep config
// directory and runs the rendezvous relay until interrupted.
func RunRelay(c *cli.Context) error {
	cfg, err := loadRelayConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err, OperationFailed)
	}

	srv := relay.NewServer(cfg.ListenAddr, relay.NewHub(), cfg.AllowedOrigins)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("relay listening on %s\n", cfg.ListenAddr)
	select {
	case err := <-errCh:
		return cli.Exit(err, OperationFailed)
	case <-sig:
		return srv.Close()
	}
}
