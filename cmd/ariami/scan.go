package main

import (
	"fmt"

	"github.com/picccassso/Ariami-sub003/internal/config"
	"github.com/picccassso/Ariami-sub003/internal/library"
	"github.com/picccassso/Ariami-sub003/internal/metadata"
	"github.com/picccassso/Ariami-sub003/internal/scanner"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index the library once and print what was found",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan()
	},
}

func runScan() error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	// Keep the pipeline's own logging out of the progress display.
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	metaCache := metadata.NewCache(cfg.Library.MetadataCacheFile, logger)
	extractor := metadata.NewExtractor(metaCache, logger)
	sc := scanner.New(cfg.Library.SupportedFormats, logger)
	lib := library.NewManager(sc, extractor, metaCache, logger)

	stage := color.New(color.FgCyan, color.Bold)
	lib.OnProgress(func(p library.ScanProgress) {
		switch p.Stage {
		case library.StageExtracting:
			fmt.Printf("\r%s %s (%d%%)   ", stage.Sprint("extracting"), p.Message, int(p.Percent))
		case library.StageFailed:
			fmt.Println()
			color.Red("scan failed: %s", p.Message)
		default:
			fmt.Printf("\n%s %s\n", stage.Sprint(string(p.Stage)), p.Message)
		}
	})

	if err := lib.ScanNow(cfg.Library.Path); err != nil {
		return err
	}

	snapshot := lib.Library()
	fmt.Println()
	color.Green("Indexed %d songs", snapshot.SongCount())
	fmt.Printf("  albums:     %d\n", len(snapshot.Albums))
	fmt.Printf("  standalone: %d\n", len(snapshot.Songs))
	fmt.Printf("  cache:      %d entries\n", metaCache.Len())

	if err := metaCache.Save(); err != nil {
		color.Yellow("warning: could not persist metadata cache: %v", err)
	}
	return nil
}
