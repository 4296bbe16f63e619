// Command drivercore-probe drives a single registered driver from the
// terminal: point it at a kind/name/root and a bag of backend options,
// and it exposes ls/stat/cat/put/mkdir/rm/caps against whatever comes
// back from driver.New. It exists for ad-hoc smoke-testing a backend
// against a real upstream without standing up the orchestrator this
// module is a layer under.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hubdrive/drivercore/driver"

	_ "github.com/hubdrive/drivercore/backend/attachment"
	_ "github.com/hubdrive/drivercore/backend/githost"
	_ "github.com/hubdrive/drivercore/backend/httpmirror"
	_ "github.com/hubdrive/drivercore/backend/hubdataset"
	_ "github.com/hubdrive/drivercore/backend/webdav"
)

var (
	flagKind   string
	flagName   string
	flagRoot   string
	flagOpts   []string
	flagConfig string
)

// probeConfig is the shape of the optional --config JSON file: a
// saved kind/name/root/options set so a probe invocation doesn't need
// to repeat every --opt on the command line. Explicit flags win over
// whatever the file holds.
type probeConfig struct {
	Kind    string            `json:"kind"`
	Name    string            `json:"name"`
	Root    string            `json:"root"`
	Options map[string]string `json:"options"`
}

func loadConfig(path string) (probeConfig, error) {
	var cfg probeConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "drivercore-probe",
		Short:         "Drive one registered storage backend from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&flagKind, "kind", "", "registered driver kind, e.g. webdav, httpmirror, githost, hubdataset, attachment")
	flags.StringVar(&flagName, "name", "probe", "instance name passed to the driver")
	flags.StringVar(&flagRoot, "root", "/", "root path within the backend")
	flags.StringArrayVar(&flagOpts, "opt", nil, "backend option as key=value, repeatable")
	flags.StringVar(&flagConfig, "config", "", "JSON file holding {kind,name,root,options}; explicit flags override its fields")

	root.AddCommand(
		newListCmd(),
		newCapsCmd(),
		newKindsCmd(),
		newFlagsCmd(),
		newStatCmd(),
		newCatCmd(),
		newPutCmd(),
		newMkdirCmd(),
		newRmCmd(),
	)
	return root
}

// parsedOpts merges --config's options with the repeated --opt
// key=value flags into the raw map driver.New expects; --opt entries
// win on a key collision.
func parsedOpts(cfg probeConfig) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range cfg.Options {
		out[k] = v
	}
	for _, kv := range flagOpts {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--opt %q is not in key=value form", kv)
		}
		out[k] = v
	}
	return out, nil
}

// probeCollaborators builds a fresh, process-local set of
// driver.Collaborators for the driver under probe. Backends that don't
// need a given collaborator simply never touch it.
func probeCollaborators() driver.Collaborators {
	return driver.Collaborators{
		Nodes:    newMemNodeStore(),
		Sessions: newMemSessionStore(),
		Decrypt:  driver.NoopDecryptor{},
	}
}

// openDriver resolves --kind/--name/--root/--opt against an optional
// --config file and constructs+initializes the requested driver.
// Flags explicitly set on the command line win over the config file.
func openDriver(cmd *cobra.Command, ctx context.Context) (driver.Driver, error) {
	var cfg probeConfig
	if flagConfig != "" {
		var err error
		cfg, err = loadConfig(flagConfig)
		if err != nil {
			return nil, err
		}
	}

	pf := cmd.Root().PersistentFlags()
	kind, name, root := cfg.Kind, cfg.Name, cfg.Root
	if pf.Changed("kind") || kind == "" {
		kind = flagKind
	}
	if pf.Changed("name") || name == "" {
		name = flagName
	}
	if pf.Changed("root") || root == "" {
		root = flagRoot
	}

	if kind == "" {
		return nil, fmt.Errorf("--kind (or a --config file's \"kind\") is required; registered kinds: %s", strings.Join(driver.Registered(), ", "))
	}

	raw, err := parsedOpts(cfg)
	if err != nil {
		return nil, err
	}
	return driver.New(ctx, kind, name, root, raw, probeCollaborators())
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List every registered driver kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range driver.Registered() {
				fmt.Println(k)
			}
			return nil
		},
	}
}

// newFlagsCmd dumps every persistent flag with its current value
// (defaults included), for debugging an --opt typo without re-reading
// --help.
func newFlagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "flags",
		Short:  "Print the effective --kind/--name/--root/--opt flags",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
				fmt.Printf("%-8s = %s\n", f.Name, f.Value.String())
			})
			return nil
		},
	}
}
