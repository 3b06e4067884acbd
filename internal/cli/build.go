package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nace/triagedisk/internal/copier"
	"github.com/nace/triagedisk/internal/pipeline"
	"github.com/nace/triagedisk/internal/system"
	"github.com/nace/triagedisk/internal/ui"
	"github.com/nace/triagedisk/internal/volume"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"
)

const (
	defaultImageName = "triage.vhdx"
	defaultCapacity  = "128GB"
)

// BuildCommand handles building an image from a triage collection.
// Its flags are read through viper so TRIAGEDISK_* variables can set them.
type BuildCommand struct {
	ctx *GlobalContext
}

// BuildPlan is a fully resolved build request
type BuildPlan struct {
	Options pipeline.Options
	LogPath string
}

// NewBuildCommand creates the build command
func NewBuildCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &BuildCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "build <triage-root>",
		Short: "Build a virtual disk from a triage collection",
		Long: `Build a VHD/VHDX image holding an NTFS volume labeled C whose C directory
mirrors the collected files under auto/ and the NTFS metadata under ntfs/,
with escaped names restored.`,
		Args: cobra.ExactArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringP("output-dir", "o", ".", "Directory for the image and log file")
	cobraCmd.Flags().StringP("name", "n", defaultImageName, "Image file name (.vhd or .vhdx)")
	cobraCmd.Flags().StringP("size", "s", defaultCapacity, "Image capacity (e.g., 64GB, 500M; a bare number is GB)")
	cobraCmd.Flags().Bool("overwrite", false, "Replace an existing image")
	cobraCmd.Flags().String("log-file", "", "Log file path (default <image>_<timestamp>.log next to the image)")
	cobraCmd.Flags().Uint64("retries", copier.DefaultRetries, "Extra attempts for a failing file copy")
	cobraCmd.Flags().Duration("settle", volume.DefaultSettleDelay, "Wait after attaching the image")
	cobraCmd.Flags().StringSlice("exclude", nil, "Skip decoded paths matching a glob (repeatable, e.g. '**/pagefile.sys')")

	return cobraCmd
}

// Run executes the build command
func (c *BuildCommand) Run(cmd *cobra.Command, args []string) error {
	v := NewConfig()
	if err := BindFlags(v, cmd.Flags()); err != nil {
		return err
	}

	now := time.Now()
	logPath, err := ResolveLogPath(v, now)
	if err != nil {
		return err
	}

	// Open the log before validating the rest so rejected builds are recorded
	if err := c.ctx.Logger.OpenFile(logPath); err != nil {
		return err
	}
	defer func() {
		if err := c.ctx.Logger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}()
	c.ctx.Logger.Info("Logging to %s", logPath)

	plan, err := ResolveBuild(v, c.ctx.Fs, args[0], now)
	if err != nil {
		err = pipeline.Precondition(err)
		c.ctx.Logger.Error("Build failed: %v", err)
		return err
	}

	return c.execute(cmd, plan)
}

func (c *BuildCommand) execute(cmd *cobra.Command, plan *BuildPlan) error {
	p := pipeline.New(c.ctx.Fs, c.ctx.Provider, c.ctx.Privileges, c.ctx.Logger)

	result, err := p.Run(cmd.Context(), plan.Options)
	if err != nil {
		return err
	}

	if !c.ctx.Logger.Quiet {
		printSummary(cmd.OutOrStdout(), result, plan.LogPath)
	}
	return nil
}

// ResolveBuild turns flag and environment values into a build plan
func ResolveBuild(v *viper.Viper, fs afero.Fs, triageRoot string, now time.Time) (*BuildPlan, error) {
	root, err := system.ResolveDir(fs, triageRoot)
	if err != nil {
		return nil, errors.Errorf("invalid triage root: %w", err)
	}

	name := v.GetString("name")
	if name == "" || filepath.Base(name) != name {
		return nil, errors.Errorf("invalid image name: %q (use a file name such as %s)", name, defaultImageName)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".vhd", ".vhdx":
	default:
		return nil, errors.Errorf("unsupported image extension: %s (use .vhd or .vhdx)", name)
	}

	outputDir, err := filepath.Abs(v.GetString("output-dir"))
	if err != nil {
		return nil, errors.Errorf("invalid output directory: %w", err)
	}
	imagePath := filepath.Join(outputDir, name)

	sizeBytes, err := system.ParseCapacity(v.GetString("size"))
	if err != nil {
		return nil, err
	}

	logPath, err := ResolveLogPath(v, now)
	if err != nil {
		return nil, err
	}

	return &BuildPlan{
		Options: pipeline.Options{
			TriageRoot:  root,
			ImagePath:   imagePath,
			SizeBytes:   sizeBytes,
			Overwrite:   v.GetBool("overwrite"),
			SettleDelay: v.GetDuration("settle"),
			Retries:     v.GetUint64("retries"),
			Exclude:     v.GetStringSlice("exclude"),
		},
		LogPath: logPath,
	}, nil
}

// ResolveLogPath returns the absolute log file path. It only needs the output
// directory, the image name and now, so it works before the rest is validated.
func ResolveLogPath(v *viper.Viper, now time.Time) (string, error) {
	logPath := v.GetString("log-file")
	if logPath == "" {
		outputDir, err := filepath.Abs(v.GetString("output-dir"))
		if err != nil {
			return "", errors.Errorf("invalid output directory: %w", err)
		}
		logPath = system.DefaultLogPath(filepath.Join(outputDir, filepath.Base(v.GetString("name"))), now)
	}

	abs, err := filepath.Abs(logPath)
	if err != nil {
		return "", errors.Errorf("invalid log file path: %w", err)
	}
	return abs, nil
}

func printSummary(w io.Writer, result *pipeline.Result, logPath string) {
	table := ui.NewTable("FIELD", "VALUE")
	table.AddRow("Image", result.ImagePath)
	table.AddRow("Files", strconv.Itoa(result.Stats.Files))
	table.AddRow("Directories", strconv.Itoa(result.Stats.Directories))
	table.AddRow("Copied", system.FormatSize(uint64(result.Stats.Bytes)))
	table.AddRow("Skipped", strconv.Itoa(result.Stats.Skipped))
	table.AddRow("Failed", strconv.Itoa(result.Stats.Failed))
	table.AddRow("Detached", strconv.FormatBool(result.Detached))
	table.AddRow("Duration", result.Duration.Round(time.Millisecond).String())
	table.AddRow("Log", logPath)
	table.Fprint(w)
}
