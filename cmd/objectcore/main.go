// Command objectcore is the operational entrypoint for the object store:
// loading template definitions, instantiating objects, inspecting lineage,
// and dispatching actions against a configured storage backend.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"objectcore/internal/core"
	"objectcore/pkg/domain"
	"objectcore/pkg/domain/document"
)

var version = "dev"

var (
	flagProps        []string
	flagSkipChildren bool
	flagPathPrefix   string
)

var rootCmd = &cobra.Command{
	Use:           "objectcore",
	Short:         "Template-driven object store with lineage and audit",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("actor", "",
		"acting identity stamped onto audit records (default: system)")
	cobra.CheckErr(viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor")))

	createCmd.Flags().StringArrayVar(&flagProps, "prop", nil,
		"property override as key=value, repeatable")
	createCmd.Flags().BoolVar(&flagSkipChildren, "skip-children", false,
		"suppress the template's child layouts")

	listCmd.Flags().StringVar(&flagPathPrefix, "path", "",
		"filter by type path prefix, e.g. container/plate")

	templatesCmd.AddCommand(templatesLoadCmd, templatesListCmd)
	actionsCmd.AddCommand(actionsExecuteCmd, actionsScheduleCmd)
	rootCmd.AddCommand(templatesCmd, createCmd, getCmd, listCmd, childrenCmd, auditCmd, actionsCmd)
}

func initConfig() {
	viper.SetEnvPrefix("OBJECTCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.SetDefault("storage_driver", string(core.StorageSQLite))
	viper.AutomaticEnv()
}

// storageConfig resolves the backend selection from viper, so both the
// OBJECTCORE_* environment and any future flags flow through one place.
func storageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(viper.GetString("storage_driver")),
		SQLitePath:  viper.GetString("sqlite_path"),
		PostgresDSN: viper.GetString("postgres_dsn"),
	}
}

func newService() (*core.Service, func(), error) {
	store, err := core.OpenPersistentStore(storageConfig())
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if closer, ok := store.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := core.NewService(store, core.WithLogger(logger), core.WithActionRecords(true))
	if actor := viper.GetString("actor"); actor != "" {
		svc = svc.WithActor(actor)
	}
	return svc, closeFn, nil
}

// parseProps converts repeated key=value flags into a property map. Values
// stay strings; typed defaults come from the template.
func parseProps(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed --prop %q, want key=value", kv)
		}
		props[key] = value
	}
	return props, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage template definitions",
}

var templatesLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Load template definitions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		svc, closeFn, err := newService()
		if err != nil {
			return err
		}
		defer closeFn()
		n, err := svc.LoadDefinitions(cmd.Context(), data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d templates\n", n)
		return nil
	},
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newService()
		if err != nil {
			return err
		}
		defer closeFn()
		templates, err := svc.ListTemplates(cmd.Context(), core.ListOptions{})
		if err != nil {
			return err
		}
		return printJSON(templates)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <type-path> <name>",
	Short: "Instantiate a template, including its declared children",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		props, err := parseProps(flagProps)
		if err != nil {
			return err
		}
		svc, closeFn, err := newService()
		if err != nil {
			return err
		}
		defer closeFn()
		result, err := svc.CreateInstance(cmd.Context(), args[0], args[1], props, core.CreateOptions{
			SkipChildren: flagSkipChildren,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d instances, %d edges)\n",
			result.Root.EUID, result.Total(), len(result.Edges))
		return printJSON(result.Root)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <euid>",
	Short: "Resolve a template or instance by enterprise identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newService()
		if err != nil {
			return err
		}
		defer closeFn()
		obj, err := svc.GetByEUID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(obj)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live instances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newService()
		if err != nil {
			return err
		}
		defer closeFn()
		instances, err := svc.ListInstances(cmd.Context(), core.ListOptions{PathPrefix: flagPathPrefix})
		if err != nil {
			return err
		}
		return printJSON(instances)
	},
}

var childrenCmd = &cobra.Command{
	Use:   "children <instance-id>",
	Short: "List the lineage children of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newService()
		if err != nil {
			return err
		}
		defer closeFn()
		edges, nodes, err := svc.Children(cmd.Context(), args[0], core.ListOptions{})
		if err != nil {
			return err
		}
		return printJSON(struct {
			Edges    []core.LineageEdge `json:"edges"`
			Children []core.Instance    `json:"children"`
		}{edges, nodes})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <entity> <id>",
	Short: "Show the audit trail of a template, instance, or edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newService()
		if err != nil {
			return err
		}
		defer closeFn()
		records, err := svc.AuditTrail(cmd.Context(), domain.EntityType(args[0]), args[1])
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Dispatch and schedule instance actions",
}

var actionsExecuteCmd = &cobra.Command{
	Use:   "execute <instance-id> <group> <key>",
	Short: "Execute a declared action on an instance",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newService()
		if err != nil {
			return err
		}
		defer closeFn()
		result, err := svc.ExecuteAction(cmd.Context(), args[0], args[1], args[2], document.New())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "executed in %s\n", result.Duration)
		if result.ActionInstance != nil {
			return printJSON(result.ActionInstance)
		}
		return nil
	},
}

var actionsScheduleCmd = &cobra.Command{
	Use:   "schedule <instance-id> <group> <key>",
	Short: "Create a scheduled action record without executing",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newService()
		if err != nil {
			return err
		}
		defer closeFn()
		record, err := svc.ScheduleAction(cmd.Context(), args[0], args[1], args[2], document.New())
		if err != nil {
			return err
		}
		return printJSON(record)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
