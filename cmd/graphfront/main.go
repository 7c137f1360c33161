package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jscomplete/graphfront"
	"github.com/jscomplete/graphfront/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/spf13/cobra"
)

var version = "dev"

func mustFlagString(cmd *cobra.Command, name string, required bool) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}
	if required && val == "" {
		fmt.Printf("error: required flag --%s missing\n", name)
		os.Exit(1)
	}
	return val
}

func mustFlagBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}
	return val
}

func newLogger(cmd *cobra.Command) logger.Logger {
	if mustFlagBool(cmd, "silent") {
		return logger.NewTestLogger()
	}
	if mustFlagBool(cmd, "verbose") {
		return logger.NewConsoleLogger(logger.LevelTrace)
	}
	return logger.NewConsoleLogger(logger.LevelInfo)
}

func connect(cmd *cobra.Command, log logger.Logger) *sql.DB {
	db, err := graphfront.Connect(cmd.Context(), mustFlagString(cmd, "db-url", true))
	if err != nil {
		log.Error("error connecting to the database: %s", err)
		os.Exit(1)
	}
	return db
}

// readDefinition loads a table definition from a JSON file ("-" for stdin).
// Fields without a stable identifier get one assigned.
func readDefinition(path string, log logger.Logger) graphfront.TableDefinition {
	var buf []byte
	var err error
	if path == "-" {
		buf, err = io.ReadAll(os.Stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		log.Error("error reading definition: %s", err)
		os.Exit(1)
	}
	var def graphfront.TableDefinition
	if err := json.Unmarshal(buf, &def); err != nil {
		log.Error("error parsing definition: %s", err)
		os.Exit(1)
	}
	for i, f := range def.Fields {
		if f.ID == "" {
			def.Fields[i].ID = uuid.New().String()
		}
	}
	return def
}

var rootCmd = &cobra.Command{
	Use:   "graphfront",
	Short: "Compile GraphQL-style schemas from postgres namespaces",
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Compile the namespace and print its schema",
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(cmd)
		defer util.RecoverPanic(log)
		db := connect(cmd, log)
		defer db.Close()
		namespace := mustFlagString(cmd, "schema", true)
		g := graphfront.New(db, graphfront.Options{Logger: log})
		schema, err := g.GetSchema(cmd.Context(), namespace)
		if err != nil {
			log.Error("%s", err)
			os.Exit(1)
		}
		black := color.New(color.Faint).SprintFunc()
		fmt.Println(black("# namespace: " + namespace))
		fmt.Println(black("# fingerprint: " + schema.Compiled.Fingerprint))
		fmt.Println(schema.Compiled.SDL)
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the namespace tables and their compiled fields",
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(cmd)
		defer util.RecoverPanic(log)
		db := connect(cmd, log)
		defer db.Close()
		namespace := mustFlagString(cmd, "schema", true)
		g := graphfront.New(db, graphfront.Options{Logger: log})
		info, err := g.ModelsInfo(cmd.Context(), namespace)
		if err != nil {
			log.Error("%s", err)
			os.Exit(1)
		}
		yellow := color.New(color.FgYellow, color.Bold).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		tables := make([]string, 0, len(info))
		for table := range info {
			tables = append(tables, table)
		}
		sort.Strings(tables)
		for _, table := range tables {
			meta := info[table]
			fmt.Printf("%s (%s)\n", yellow(meta.ModelName), meta.TableName)
			for _, f := range meta.Fields {
				suffix := ""
				if f.Required {
					suffix = "!"
				}
				if f.Relation {
					suffix += " -> " + f.RelatedTable
				}
				fmt.Printf("  %-20s %s%s\n", f.Name, cyan(f.Type), suffix)
			}
			fmt.Println()
		}
	},
}

var createTableCmd = &cobra.Command{
	Use:   "create-table",
	Short: "Create a table from a JSON definition",
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(cmd)
		defer util.RecoverPanic(log)
		db := connect(cmd, log)
		defer db.Close()
		namespace := mustFlagString(cmd, "schema", true)
		def := readDefinition(mustFlagString(cmd, "file", true), log)
		g := graphfront.New(db, graphfront.Options{Logger: log})
		meta, err := g.CreateTable(cmd.Context(), namespace, def)
		if err != nil {
			log.Error("%s", err)
			os.Exit(1)
		}
		log.Info("created %s with %d fields", meta.TableName, len(meta.Fields))
	},
}

var alterTableCmd = &cobra.Command{
	Use:   "alter-table",
	Short: "Reconcile a table with a JSON definition",
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(cmd)
		defer util.RecoverPanic(log)
		db := connect(cmd, log)
		defer db.Close()
		namespace := mustFlagString(cmd, "schema", true)
		def := readDefinition(mustFlagString(cmd, "file", true), log)
		g := graphfront.New(db, graphfront.Options{Logger: log})
		meta, err := g.AlterTable(cmd.Context(), namespace, def)
		if err != nil {
			log.Error("%s", err)
			os.Exit(1)
		}
		log.Info("altered %s, now %d fields", meta.TableName, len(meta.Fields))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().String("db-url", os.Getenv("DATABASE_URL"), "the postgres connection url")
	rootCmd.PersistentFlags().String("schema", "public", "the database namespace to compile")
	rootCmd.PersistentFlags().Bool("verbose", false, "turn on verbose logging")
	rootCmd.PersistentFlags().Bool("silent", false, "turn off all logging")
	createTableCmd.Flags().String("file", "", "path to the table definition json, - for stdin")
	alterTableCmd.Flags().String("file", "", "path to the table definition json, - for stdin")
	rootCmd.AddCommand(schemaCmd, tablesCmd, createTableCmd, alterTableCmd, versionCmd)
}

func main() {
	if version == "dev" {
		if v, ok := os.LookupEnv("GIT_SHA"); ok && v != "" {
			version = v
		}
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
