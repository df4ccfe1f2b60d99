package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/romforge/go-romkitchen/internal/estimate"
	"github.com/romforge/go-romkitchen/internal/orchestrate"
	"github.com/romforge/go-romkitchen/internal/tooling"
	"github.com/romforge/go-romkitchen/internal/workspace"
)

// initConfig reads in the config file and environment variables if set.
func initConfig() {
	viper.SetConfigName("romkitchen")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "romkitchen"))
	}
	viper.SetEnvPrefix("ROMKITCHEN")
	viper.AutomaticEnv()

	viper.SetDefault("projects.dir", "projects")
	viper.SetDefault("tools.dir", "bin")
	viper.SetDefault("estimate.inode_chunk", estimate.DefaultInodeChunk)
	viper.SetDefault("estimate.inode_cost", estimate.DefaultInodeCost)
	viper.SetDefault("estimate.slack_trigger", estimate.DefaultSlackTrigger)
	viper.SetDefault("estimate.slack", estimate.DefaultSlack)
	viper.SetDefault("estimate.block_size", estimate.DefaultBlockSize)
	viper.SetDefault("erofs.algorithm", "lz4hc")
	viper.SetDefault("erofs.level", 9)
	viper.SetDefault("brotli.level", 3)

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func projectManager() (*workspace.Manager, error) {
	return workspace.NewManager(viper.GetString("projects.dir"))
}

// session bundles the per-invocation engine with the resources it holds open.
type session struct {
	engine  *orchestrate.Engine
	runner  *tooling.Runner
	logFile *os.File
}

// openSession resolves the --project flag into a running engine. Every command
// that touches a project goes through here, so a missing project fails before
// any side effects.
func openSession() (*session, error) {
	if projectName == "" {
		return nil, fmt.Errorf("no project selected, use --project")
	}
	manager, err := projectManager()
	if err != nil {
		return nil, err
	}
	project, err := manager.Open(projectName)
	if err != nil {
		return nil, err
	}

	log, logFile, err := tooling.OpenLog(project.Root, verbose)
	if err != nil {
		return nil, err
	}
	runner := tooling.NewRunner(viper.GetString("tools.dir"), log)
	engine, err := orchestrate.NewEngine(project, runner, log)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	est := engine.Estimator()
	est.InodeChunk = viper.GetUint64("estimate.inode_chunk")
	est.InodeCost = viper.GetUint64("estimate.inode_cost")
	est.SlackTrigger = viper.GetUint64("estimate.slack_trigger")
	est.Slack = viper.GetUint64("estimate.slack")
	est.BlockSize = viper.GetUint64("estimate.block_size")

	return &session{engine: engine, runner: runner, logFile: logFile}, nil
}

func (s *session) Close() {
	s.runner.Shutdown()
	s.logFile.Close()
}

// printReport renders a batch outcome and returns an error when any selected
// partition failed, so the process exit code reflects the batch.
func printReport(report *orchestrate.Report) error {
	for _, name := range report.Processed {
		fmt.Printf("  ok    %s\n", name)
	}
	for name, reason := range report.Skipped {
		fmt.Printf("  skip  %s: %s\n", name, reason)
	}
	for name, err := range report.Failed {
		fmt.Printf("  FAIL  %s: %v\n", name, err)
	}
	if !report.OK() {
		return fmt.Errorf("%d of %d partitions failed",
			len(report.Failed), len(report.Processed)+len(report.Failed)+len(report.Skipped))
	}
	return nil
}
