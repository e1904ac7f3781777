// Command gradecli aggregates judge grades and grades transcripts from the
// command line.
//
// Usage:
//
//	gradecli aggregate -grades grades.json [-threshold 0.2] [-rubric standard-osce] [-json]
//	gradecli grade -rubric standard-osce -transcript session.json [-judges gemini-2.5-pro,openai] [-config rubric.yaml] [-json]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-rubric/internal/application"
	"github.com/ahrav/go-rubric/internal/bootstrap"
	"github.com/ahrav/go-rubric/internal/domain"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Getenv); err != nil {
		fmt.Fprintln(os.Stderr, "gradecli:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	if len(args) == 0 {
		return errors.New("expected a command: aggregate or grade")
	}
	switch args[0] {
	case "aggregate":
		return runAggregate(args[1:], stdout)
	case "grade":
		return runGrade(ctx, args[1:], stdout, getenv)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runAggregate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	gradesPath := fs.String("grades", "", "JSON file holding an array of judge grades")
	threshold := fs.Float64("threshold", domain.DefaultDisagreementThreshold, "disagreement threshold in [0, 1]")
	rubricRef := fs.String("rubric", "", "rubric template or file; fixes the category order")
	strict := fs.Bool("strict", false, "fail when a judge omits a category")
	asJSON := fs.Bool("json", false, "print the aggregated grade as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *gradesPath == "" {
		return errors.New("aggregate: -grades is required")
	}

	var judgeGrades []domain.JudgeGrade
	if err := readJSON(*gradesPath, &judgeGrades); err != nil {
		return err
	}

	agg := domain.Aggregator{Threshold: *threshold, Policy: domain.PolicyPermissive}
	if *strict {
		agg.Policy = domain.PolicyStrict
	}
	if *rubricRef != "" {
		rubric, err := loadRubric(*rubricRef)
		if err != nil {
			return err
		}
		agg.Categories = rubric.CategoryNames()
	}

	grade, err := agg.Aggregate(judgeGrades)
	if err != nil {
		return err
	}
	return output(stdout, grade, *asJSON)
}

// transcriptFile is the on-disk form of one interview.
type transcriptFile struct {
	Patient  *domain.PatientContext     `json:"patient"`
	Messages []domain.TranscriptMessage `json:"messages"`
}

func runGrade(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("grade", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	rubricRef := fs.String("rubric", domain.TemplateStandardOSCE, "rubric template or file")
	transcriptPath := fs.String("transcript", "", "JSON file with patient and messages")
	judgeList := fs.String("judges", "", "comma-separated judge models; overrides the config")
	asJSON := fs.Bool("json", false, "print the aggregated grade as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *transcriptPath == "" {
		return errors.New("grade: -transcript is required")
	}

	cfg, err := application.LoadConfig(*configPath, getenv)
	if err != nil {
		return err
	}
	if *judgeList != "" {
		cfg.Grading.Judges = splitList(*judgeList)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	rubric, err := loadRubric(*rubricRef)
	if err != nil {
		return err
	}
	var tf transcriptFile
	if err := readJSON(*transcriptPath, &tf); err != nil {
		return err
	}

	// Judge requests are logged to stderr so stdout stays a clean report.
	tel := application.Telemetry{Logger: bootstrap.NewLogger(application.LogConfig{Level: "warn", Format: "text"}, os.Stderr)}
	registry, err := application.NewJudgeRegistry(cfg.LLM, tel, getenv)
	if err != nil {
		return err
	}
	invoker, err := application.NewJudgeInvoker(cfg.Grading, registry, tel)
	if err != nil {
		return err
	}

	input := domain.GradingInput{Transcript: tf.Messages, Rubric: rubric, PatientContext: tf.Patient}
	judgeGrades, err := invoker.RunAll(ctx, input, cfg.Grading.Judges)
	if err != nil {
		return err
	}

	grade, err := domain.Aggregator{
		Threshold:  cfg.Grading.DisagreementThreshold,
		Categories: rubric.CategoryNames(),
		Policy:     cfg.Grading.MissingCategoryPolicy,
	}.Aggregate(judgeGrades)
	if err != nil {
		return err
	}
	return output(stdout, grade, *asJSON)
}

// loadRubric resolves a built-in template name or reads a rubric from a
// JSON or YAML file. File rubrics without total points get the sum of
// their categories.
func loadRubric(ref string) (domain.Rubric, error) {
	if rubric, ok := domain.RubricTemplate(ref); ok {
		return rubric, nil
	}

	data, err := os.ReadFile(filepath.Clean(ref))
	if err != nil {
		return domain.Rubric{}, fmt.Errorf("rubric %q is neither a template (%s, %s) nor a readable file: %w",
			ref, domain.TemplateStandardOSCE, domain.TemplateFPCCCompleteHistory, err)
	}

	var rubric domain.Rubric
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &rubric)
	default:
		err = json.Unmarshal(data, &rubric)
	}
	if err != nil {
		return domain.Rubric{}, fmt.Errorf("decode rubric %s: %w", ref, err)
	}
	if rubric.TotalPoints == 0 {
		rubric = domain.NewRubric(rubric.Categories)
	}
	if err := rubric.Validate(); err != nil {
		return domain.Rubric{}, err
	}
	return rubric, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func output(w io.Writer, grade domain.AggregatedGrade, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(grade)
	}
	return renderReport(w, grade)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
