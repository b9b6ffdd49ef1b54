package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/apresai/callsynth/internal/assembly"
	"github.com/apresai/callsynth/internal/catalog"
	"github.com/apresai/callsynth/internal/config"
	"github.com/apresai/callsynth/internal/dataset"
	"github.com/apresai/callsynth/internal/dialogue"
	"github.com/apresai/callsynth/internal/entity"
	"github.com/apresai/callsynth/internal/pipeline"
	"github.com/apresai/callsynth/internal/profile"
	"github.com/apresai/callsynth/internal/scenario"
	"github.com/apresai/callsynth/internal/seed"
	"github.com/apresai/callsynth/internal/tts"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the conversations a generate run would produce, without calling the LLM",
	RunE:  runPlan,
}

var checkCatalogCmd = &cobra.Command{
	Use:   "check-catalog",
	Short: "Validate a placeholder catalog against the tags used by a seed file",
	RunE:  runCheckCatalog,
}

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Build scenario templates and seed assignments for preconfigured runs",
	RunE:  runAssign,
}

var diversityCmd = &cobra.Command{
	Use:   "diversity <dataset.json>",
	Short: "Report placeholder and profile diversity of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiversity,
}

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize <dataset.json | conversation.json>",
	Short: "Voice conversations with a TTS provider, one audio file per turn",
	Args:  cobra.ExactArgs(1),
	RunE:  runSynthesize,
}

var (
	flagPlanJSON bool

	flagCatalogPath  string
	flagCatalogSeeds string
	flagRequire      []string

	flagAssignSeeds     string
	flagAssignProfiles  string
	flagAssignTemplates string
	flagAssignCount     int
	flagAssignPerSeed   int
	flagAssignOut       string
	flagAssignTmplOut   string
	flagAssignSeed      uint64

	flagDiversityXLSX string

	flagTTS           string
	flagTTSOut        string
	flagTTSIDs        []string
	flagCallerVoice   string
	flagCalleeVoice   string
	flagTTSLanguage   string
	flagElevenLabsKey string
	flagMerge         bool
	flagAudioProfile  string
	flagTurnGap       time.Duration
)

func init() {
	planCmd.Flags().BoolVar(&flagPlanJSON, "json", false, "Print units as JSON")

	f := checkCatalogCmd.Flags()
	f.StringVarP(&flagCatalogPath, "catalog", "p", "", "Placeholder catalog (JSON)")
	f.StringVarP(&flagCatalogSeeds, "seeds", "s", "", "Seed file whose tags must all resolve")
	f.StringSliceVar(&flagRequire, "require", nil, "Tags that must be present (comma-separated)")
	checkCatalogCmd.MarkFlagRequired("catalog")

	f = assignCmd.Flags()
	f.StringVarP(&flagAssignSeeds, "seeds", "s", "", "Seed file (JSON)")
	f.StringVar(&flagAssignProfiles, "profiles", "", "Character profile file; built-in profiles when empty")
	f.StringVar(&flagAssignTemplates, "templates", "", "Existing templates file; generated when empty")
	f.IntVar(&flagAssignCount, "count", 50, "Templates to generate")
	f.IntVar(&flagAssignPerSeed, "per-seed", 5, "Templates assigned to each seed")
	f.StringVarP(&flagAssignOut, "output", "o", "assignments.json", "Assignments output path")
	f.StringVar(&flagAssignTmplOut, "templates-output", "templates.json", "Generated templates output path")
	f.Uint64Var(&flagAssignSeed, "random-seed", 1, "Random seed")
	assignCmd.MarkFlagRequired("seeds")

	diversityCmd.Flags().StringVar(&flagDiversityXLSX, "xlsx", "", "Also write the report as an Excel workbook")

	f = synthesizeCmd.Flags()
	f.StringVarP(&flagTTS, "tts", "T", "elevenlabs", "TTS provider: "+strings.Join(tts.Providers, ", "))
	f.StringVarP(&flagTTSOut, "output", "o", "audio", "Output directory")
	f.StringSliceVar(&flagTTSIDs, "id", nil, "Only these conversation ids")
	f.StringVar(&flagCallerVoice, "caller-voice", "", "Voice id for the caller")
	f.StringVar(&flagCalleeVoice, "callee-voice", "", "Voice id for the callee")
	f.StringVar(&flagTTSLanguage, "language", "", "BCP-47 language code; defaults to the dataset locale")
	f.StringVar(&flagElevenLabsKey, "elevenlabs-api-key", "", "ElevenLabs API key (overrides ELEVENLABS_API_KEY env var)")
	f.BoolVar(&flagMerge, "merge", false, "Also join each conversation's turns into <output>/<id>.mp3 (needs ffmpeg)")
	f.StringVar(&flagAudioProfile, "profile", string(assembly.ProfileStudio), "Merged audio profile: studio or phone")
	f.DurationVar(&flagTurnGap, "gap", assembly.DefaultGap, "Pause between turns in merged audio")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	in, err := pipeline.LoadInputs(cfg)
	if err != nil {
		return err
	}
	p, err := pipeline.BuildPlan(cfg, in)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagPlanJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(planView(p.Units))
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEED\tTEMPLATE\tCATEGORY\tTURNS\tAWARENESS\tCALLER\tCALLEE")
	for _, u := range p.Units {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			u.ConversationID, orDash(u.Seed.ID), u.Template.ID, u.Template.Category,
			u.Template.Turns, orDash(string(u.Template.Awareness)), orDash(u.Pair.Caller.ID), orDash(u.Pair.Callee.ID))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d conversations from %d seeds (%d eligible), random seed %d\n",
		len(p.Units), p.SeedsUsed, p.EligibleSeeds, p.RandomSeed)
	if p.Capped {
		fmt.Fprintln(out, "Capped by --max")
	}
	for _, s := range p.Skipped {
		fmt.Fprintf(out, "Skipped seed %s: %s\n", s.SeedID, s.Reason)
	}
	return nil
}

type unitView struct {
	ConversationID string `json:"conversation_id"`
	UUID           string `json:"uuid"`
	SeedID         string `json:"seed_id,omitempty"`
	TemplateID     string `json:"template_id"`
	Category       string `json:"category"`
	Turns          string `json:"num_turns_range"`
	Awareness      string `json:"victim_awareness,omitempty"`
	Caller         string `json:"caller_profile,omitempty"`
	Callee         string `json:"callee_profile,omitempty"`
}

func planView(units []dialogue.Unit) []unitView {
	out := make([]unitView, len(units))
	for i, u := range units {
		out[i] = unitView{
			ConversationID: u.ConversationID,
			UUID:           u.UUID,
			SeedID:         u.Seed.ID,
			TemplateID:     u.Template.ID,
			Category:       u.Template.Category,
			Turns:          u.Template.Turns.String(),
			Awareness:      string(u.Template.Awareness),
			Caller:         u.Pair.Caller.ID,
			Callee:         u.Pair.Callee.ID,
		}
	}
	return out
}

func runCheckCatalog(cmd *cobra.Command, args []string) error {
	c, err := catalog.Load("", flagCatalogPath, flagRequire)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d tags\n", flagCatalogPath, c.Len())

	if flagCatalogSeeds == "" {
		return nil
	}
	seeds, err := seed.Load(flagCatalogSeeds)
	if err != nil {
		return err
	}
	missing := missingTags(c, seeds.All())
	if len(missing) == 0 {
		fmt.Fprintf(out, "all tags used by %d seeds resolve\n", seeds.Len())
		return nil
	}

	tags := make([]string, 0, len(missing))
	for tag := range missing {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintf(out, "missing %s (used by %s)\n", tag, strings.Join(missing[tag], ", "))
	}
	return fmt.Errorf("%d tags used by seeds are not in the catalog", len(tags))
}

// missingTags maps each tag that c cannot resolve to the seeds using it.
func missingTags(c *catalog.Catalog, seeds []seed.Seed) map[string][]string {
	missing := map[string][]string{}
	for _, s := range seeds {
		for _, tag := range catalog.Extract(s.Text) {
			if _, err := c.Lookup(tag); err != nil {
				missing[tag] = append(missing[tag], s.ID)
			}
		}
	}
	return missing
}

func runAssign(cmd *cobra.Command, args []string) error {
	seeds, err := seed.Load(flagAssignSeeds)
	if err != nil {
		return err
	}
	reg := profile.Default()
	if flagAssignProfiles != "" {
		if reg, err = profile.Load(flagAssignProfiles); err != nil {
			return err
		}
	}
	rng := rand.New(rand.NewPCG(flagAssignSeed, flagAssignSeed))

	var templates []scenario.Template
	if flagAssignTemplates != "" {
		if templates, err = scenario.LoadTemplates(flagAssignTemplates); err != nil {
			return err
		}
	} else {
		templates, err = scenario.GenerateTemplates(reg, seeds.Categories(), flagAssignCount, scenario.DefaultAwareness, scenario.DefaultTurns, rng)
		if err != nil {
			return err
		}
		if err := scenario.SaveTemplates(flagAssignTmplOut, templates); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d templates to %s\n", len(templates), flagAssignTmplOut)
	}

	assignments := scenario.BuildAssignments(seeds.All(), templates, flagAssignPerSeed, rng)
	if err := scenario.SaveAssignments(flagAssignOut, assignments); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "assigned templates to %d of %d seeds in %s\n", len(assignments), seeds.Len(), flagAssignOut)
	return nil
}

func runDiversity(cmd *cobra.Command, args []string) error {
	d, err := dataset.Load(args[0])
	if err != nil {
		return err
	}
	r := dataset.Diversity(d)
	printDiversity(cmd.OutOrStdout(), r)

	if flagDiversityXLSX != "" {
		if err := dataset.WriteDiversityXLSX(d, r, flagDiversityXLSX); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nReport: %s\n", flagDiversityXLSX)
	}
	return nil
}

func printDiversity(w io.Writer, r entity.Report) {
	fmt.Fprintf(w, "%d conversations\n\n", r.Conversations)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tGROUP\tTOTAL\tUNIQUE\tENTROPY\tSCORE")
	for _, section := range [][]entity.Diversity{r.Placeholders, r.Profiles} {
		for _, d := range section {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%.2f\n", d.Key, orDash(d.Group), d.Total, d.Unique, d.Entropy, d.Score)
		}
	}
	tw.Flush()
}

func runSynthesize(cmd *cobra.Command, args []string) error {
	convs, locale, err := loadConversations(args[0])
	if err != nil {
		return err
	}
	if len(flagTTSIDs) > 0 {
		keep := map[string]bool{}
		for _, id := range flagTTSIDs {
			keep[id] = true
		}
		var filtered []*dialogue.Conversation
		for _, c := range convs {
			if keep[c.ID] {
				filtered = append(filtered, c)
			}
		}
		convs = filtered
	}
	if len(convs) == 0 {
		return fmt.Errorf("no conversations to synthesize")
	}
	var mixer *assembly.Mixer
	if flagMerge {
		if mixer, err = assembly.NewMixer(assembly.Profile(flagAudioProfile), flagTurnGap); err != nil {
			return err
		}
	}

	lang := flagTTSLanguage
	if lang == "" && locale != "" {
		lang = tts.LanguageCode(locale)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	provider, err := tts.NewProvider(ctx, flagTTS, tts.Options{
		CallerVoice:  flagCallerVoice,
		CalleeVoice:  flagCalleeVoice,
		LanguageCode: lang,
		APIKey:       flagElevenLabsKey,
	})
	if err != nil {
		return err
	}
	defer provider.Close()

	cfg := config.Default()
	cfg.LogFormat = "text"
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	logger := newLogger(cfg)
	for i, c := range convs {
		files, err := tts.SynthesizeConversation(ctx, provider, c, provider.DefaultVoices(), flagTTSOut, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%d/%d] %s: %d files in %s\n", i+1, len(convs), c.ID, len(files), filepath.Join(flagTTSOut, c.ID))
		if mixer == nil {
			continue
		}
		merged := filepath.Join(flagTTSOut, c.ID+".mp3")
		if err := mixer.Mix(ctx, files, merged); err != nil {
			return fmt.Errorf("merge %s: %w", c.ID, err)
		}
		logger.InfoContext(ctx, "conversation merged", "conversation_id", c.ID, "profile", mixer.Profile, "path", merged)
	}
	return nil
}

// loadConversations accepts a dataset file or a single conversation file.
func loadConversations(path string) ([]*dialogue.Conversation, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	var probe struct {
		ID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.ID != "" {
		c, err := dialogue.LoadConversation(path)
		if err != nil {
			return nil, "", err
		}
		return []*dialogue.Conversation{c}, c.Locale, nil
	}

	d, err := dataset.Load(path)
	if err != nil {
		return nil, "", err
	}
	return d.Conversations, d.Metadata.Locale, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
