package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chrissnell/scalebridge/pkg/config"
)

func main() {
	var (
		srcFile    = flag.String("src", "", "Path to YAML or TOML configuration file (required)")
		srcFormat  = flag.String("format", "", "Source format: 'yaml' or 'toml' (default: from file extension)")
		sqliteFile = flag.String("sqlite", "", "Path to SQLite database file (required)")
		force      = flag.Bool("force", false, "Overwrite existing SQLite database")
		dryRun     = flag.Bool("dry-run", false, "Show what would be done without executing")
	)
	flag.Parse()

	if *srcFile == "" || *sqliteFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -src <scalebridge.yaml|scalebridge.toml> -sqlite <scalebridge.db>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	if _, err := os.Stat(*srcFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: source file does not exist: %s\n", *srcFile)
		os.Exit(1)
	}

	if _, err := os.Stat(*sqliteFile); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Error: SQLite file already exists: %s\n", *sqliteFile)
		fmt.Fprintf(os.Stderr, "Use -force to overwrite or choose a different filename\n")
		os.Exit(1)
	}

	format := *srcFormat
	if format == "" {
		format = formatFromExt(*srcFile)
	}

	fmt.Printf("Converting %s configuration to SQLite...\n", strings.ToUpper(format))
	fmt.Printf("  Source: %s\n", *srcFile)
	fmt.Printf("  Target: %s\n", *sqliteFile)

	var provider config.ConfigProvider
	switch format {
	case "yaml":
		provider = config.NewYAMLProvider(*srcFile)
	case "toml":
		provider = config.NewTOMLProvider(*srcFile)
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported source format %q\n", format)
		os.Exit(1)
	}

	configData, err := provider.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	printConfigSummary(configData)

	if *dryRun {
		fmt.Println("DRY RUN complete - no database created")
		return
	}

	if *force {
		if err := os.Remove(*sqliteFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error removing existing SQLite file: %v\n", err)
			os.Exit(1)
		}
	}

	if err := os.MkdirAll(filepath.Dir(*sqliteFile), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	if err := saveToSQLite(*sqliteFile, configData); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration into SQLite: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Conversion completed successfully!\n")
	fmt.Printf("You can now use the SQLite backend with: -config-backend sqlite -config %s\n", *sqliteFile)
}

func formatFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

func saveToSQLite(dbPath string, configData *config.ConfigData) error {
	sqliteProvider, err := config.NewSQLiteProvider(dbPath)
	if err != nil {
		return fmt.Errorf("failed to create SQLite provider: %w", err)
	}
	defer sqliteProvider.Close()

	if err := sqliteProvider.SaveConfig(configData); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	// Read it back so a broken conversion is caught here, not at startup.
	if _, err := sqliteProvider.LoadConfig(); err != nil {
		return fmt.Errorf("stored configuration does not load: %w", err)
	}
	return nil
}

func printConfigSummary(c *config.ConfigData) {
	fmt.Println("\nConfiguration Summary:")
	fmt.Printf("Device: %s (protocol %s)\n", c.Device.Name, c.Device.Protocol)
	if c.Device.Hostname != "" {
		fmt.Printf("  - transport: tcp %s:%s\n", c.Device.Hostname, c.Device.Port)
	} else {
		fmt.Printf("  - transport: serial %s @ %d baud\n", c.Device.SerialDevice, c.Device.Baud)
	}
	fmt.Printf("Server: %s:%d (gRPC %v)\n", c.Server.ListenAddr, c.Server.Port, c.Server.GRPCEnabled)
	fmt.Printf("Hub: queue %d, overflow %s\n\n", c.Hub.QueueSize, c.Hub.OverflowPolicy)
}
