package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jwebster45206/conversation-engine/internal/storage"
	"github.com/jwebster45206/conversation-engine/pkg/corpus"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
)

var (
	dataDir      string
	defaultRange float64
	maxRange     float64
)

var rootCmd = &cobra.Command{
	Use:           "validate",
	Short:         "Check corpus, scene and conversation group files",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var corpusCmd = &cobra.Command{
	Use:   "corpus <file.json>...",
	Short: "Validate dialogue corpus files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAll(cmd.OutOrStdout(), args, validateCorpusFile)
	},
}

var sceneCmd = &cobra.Command{
	Use:   "scene <file.json>...",
	Short: "Validate scene files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAll(cmd.OutOrStdout(), args, validateSceneFile)
	},
}

var groupCmd = &cobra.Command{
	Use:   "group <file.json>...",
	Short: "Validate conversation group definitions",
	Long: "Each file holds one group or an array of groups in the same shape\n" +
		"accepted by POST /v1/groups. Corpus references are checked against\n" +
		"--data-dir when it contains a corpora directory.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := &GroupValidator{
			limits:  dialogue.Limits{DefaultRange: defaultRange, MaxRange: maxRange},
			corpora: storage.NewFileCorpora(dataDir, slog.New(slog.NewTextHandler(io.Discard, nil))),
		}
		return runAll(cmd.OutOrStdout(), args, v.validateFile)
	},
}

func init() {
	groupCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory holding corpora/")
	groupCmd.Flags().Float64Var(&defaultRange, "default-range", 30, "range applied when a group sets none")
	groupCmd.Flags().Float64Var(&maxRange, "max-range", 120, "largest allowed trigger range")

	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(sceneCmd)
	rootCmd.AddCommand(groupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Validation failed: %v", err))
		os.Exit(1)
	}
}

// runAll validates every file and reports each result. It fails if any file
// failed.
func runAll(out io.Writer, files []string, validate func(string) error) error {
	failed := 0
	for _, f := range files {
		fmt.Fprintf(out, "Validating %s...\n", f)
		if err := validate(f); err != nil {
			failed++
			fmt.Fprintln(out, color.RedString("✗ %s", f))
			fmt.Fprintln(out, err)
			continue
		}
		fmt.Fprintln(out, color.GreenString("✓ %s", f))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files invalid", failed, len(files))
	}
	return nil
}

// readStrict checks the filename and decodes the file, rejecting unknown
// fields.
func readStrict(filename string, v any) (string, error) {
	baseName := filepath.Base(filename)
	if !strings.HasSuffix(baseName, ".json") {
		return "", fmt.Errorf("file must have .json extension: %s", baseName)
	}
	id := strings.TrimSuffix(baseName, ".json")
	if !isValidID(id) {
		return "", fmt.Errorf("filename '%s' must be lowercase kebab-case or snake_case (e.g., tavern-greetings.json)", baseName)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("file %s contains invalid JSON", filename)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return "", fmt.Errorf("file %s failed strict JSON unmarshaling: %w", filename, err)
	}
	return id, nil
}

func validateCorpusFile(filename string) error {
	var f storage.CorpusFile
	id, err := readStrict(filename, &f)
	if err != nil {
		return err
	}

	var errs []string
	if len(f.Entries) == 0 {
		errs = append(errs, "corpus has no entries")
	}
	seen := make(map[string]int, len(f.Entries))
	for i, e := range f.Entries {
		if strings.TrimSpace(e) == "" {
			errs = append(errs, fmt.Sprintf("entry %d is blank", i))
			continue
		}
		if prev, ok := seen[e]; ok {
			errs = append(errs, fmt.Sprintf("entry %d duplicates entry %d", i, prev))
		}
		seen[e] = i
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation errors in corpus %s:\n  - %s", id, strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateSceneFile(filename string) error {
	var f storage.SceneFile
	if _, err := readStrict(filename, &f); err != nil {
		return err
	}

	var errs []string
	ids := make(map[string]bool, len(f.Entities))
	observers := 0
	for i, e := range f.Entities {
		switch {
		case e.ID == "":
			errs = append(errs, fmt.Sprintf("entity %d has no id", i))
		case ids[e.ID]:
			errs = append(errs, fmt.Sprintf("entity id '%s' is used twice", e.ID))
		case !isValidID(e.ID):
			errs = append(errs, fmt.Sprintf("entity id '%s' should be lowercase kebab-case or snake_case", e.ID))
		}
		ids[e.ID] = true
		if e.Observer {
			observers++
		}
	}
	if observers == 0 && len(f.Entities) > 0 {
		errs = append(errs, "scene has no observer entity, nothing will ever trigger")
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation errors in scene:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GroupValidator builds each group exactly as the host would and then checks
// that every corpus it names can be resolved.
type GroupValidator struct {
	limits  dialogue.Limits
	corpora corpus.Provider
}

func (v *GroupValidator) validateFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}

	var configs []dialogue.GroupConfig
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		_, err = readStrict(filename, &configs)
	} else {
		var one dialogue.GroupConfig
		_, err = readStrict(filename, &one)
		configs = []dialogue.GroupConfig{one}
	}
	if err != nil {
		return err
	}

	var errs []error
	for i, cfg := range configs {
		label := cfg.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if _, err := dialogue.NewGroup(fmt.Sprintf("group-%d", i), cfg, v.limits, time.Time{}); err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", label, err))
			continue
		}
		for _, id := range referencedCorpora(cfg) {
			if _, err := v.corpora.Resolve(context.Background(), id); err != nil {
				errs = append(errs, fmt.Errorf("group %s: corpus %s: %w", label, id, err))
			}
		}
	}
	return errors.Join(errs...)
}

func referencedCorpora(cfg dialogue.GroupConfig) []string {
	var ids []string
	if cfg.SharedCorpusID != "" {
		ids = append(ids, cfg.SharedCorpusID)
	}
	for _, id := range cfg.TablesByMember {
		ids = append(ids, id)
	}
	return ids
}

var validIDRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*[a-z0-9]$|^[a-z]$`)

func isValidID(id string) bool {
	return validIDRegex.MatchString(id)
}
