package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"wardrobeapi/combinations"
	"wardrobeapi/services"
)

var (
	bodyPaths      []string
	topFlags       []string
	bottomFlags    []string
	accessoryFlags []string
	volumetric     bool
	occasion       string
	outDir         string
	strict         bool
)

var rootCmd = &cobra.Command{
	Use:   "tryon",
	Short: "Render outfit combinations from local photos",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Render every top x bottom combination",
	Long:  `Render every top x bottom combination against the model and write <top>+<bottom>.png with a <top>+<bottom>.json critique next to it.`,
	Args:  cobra.NoArgs,
	RunE:  runCombinations,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect body stats from a body photo",
	Args:  cobra.NoArgs,
	RunE:  runDetect,
}

func init() {
	runCmd.Flags().StringSliceVar(&bodyPaths, "body", nil, "Body reference photos")
	runCmd.Flags().StringArrayVar(&topFlags, "top", nil, "Top item as id=photo[,photo...]; repeatable")
	runCmd.Flags().StringArrayVar(&bottomFlags, "bottom", nil, "Bottom item as id=photo[,photo...]; repeatable")
	runCmd.Flags().StringArrayVar(&accessoryFlags, "accessory", nil, "Accessory item as id=photo[,photo...]; repeatable")
	runCmd.Flags().BoolVar(&volumetric, "volumetric", false, "Treat the body photos as a 3D scan")
	runCmd.Flags().StringVar(&occasion, "occasion", "", "Occasion the critique should judge against")
	runCmd.Flags().StringVar(&outDir, "out", ".", "Directory for rendered looks")
	runCmd.Flags().BoolVar(&strict, "strict-critique", false, "Fail a combination when its critique fails")
	runCmd.MarkFlagRequired("body")

	detectCmd.Flags().StringSliceVar(&bodyPaths, "body", nil, "Body reference photo")
	detectCmd.MarkFlagRequired("body")

	rootCmd.AddCommand(runCmd, detectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseItem reads "id=a.png,b.png". Without "id=" the first file name is the id.
func parseItem(role combinations.Role, value string) (combinations.WardrobeItem, []string, error) {
	id, files, found := strings.Cut(value, "=")
	if !found {
		files = value
		id = strings.TrimSuffix(filepath.Base(value), filepath.Ext(value))
		if i := strings.Index(id, ","); i >= 0 {
			id = id[:i]
		}
	}
	id = strings.TrimSpace(id)
	if strings.ContainsAny(id, lookSeparator+`/\`) {
		return combinations.WardrobeItem{}, nil, fmt.Errorf("invalid %s id %q, ids cannot contain %q or path separators", role, id, lookSeparator)
	}
	var paths []string
	for _, path := range strings.Split(files, ",") {
		if path = strings.TrimSpace(path); path != "" {
			paths = append(paths, path)
		}
	}
	if id == "" || len(paths) == 0 {
		return combinations.WardrobeItem{}, nil, fmt.Errorf("invalid %s %q, expected id=photo[,photo...]", role, value)
	}
	return combinations.WardrobeItem{ID: id, Role: role}, paths, nil
}

func loadImages(paths []string) (combinations.ImageSet, error) {
	set := make(combinations.ImageSet, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data, err := services.NormalizeReferenceImage(raw, services.DefaultMaxEdge)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		set = append(set, combinations.Image{Key: path, Data: data, MIMEType: "image/png"})
	}
	return set, nil
}

func loadItems(role combinations.Role, values []string) ([]combinations.WardrobeItem, error) {
	items := make([]combinations.WardrobeItem, 0, len(values))
	for _, value := range values {
		item, paths, err := parseItem(role, value)
		if err != nil {
			return nil, err
		}
		if item.Images, err = loadImages(paths); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func loadSnapshot() (combinations.Snapshot, error) {
	var snapshot combinations.Snapshot
	var err error
	if snapshot.Body, err = loadImages(bodyPaths); err != nil {
		return snapshot, err
	}
	if snapshot.Tops, err = loadItems(combinations.RoleTop, topFlags); err != nil {
		return snapshot, err
	}
	if snapshot.Bottoms, err = loadItems(combinations.RoleBottom, bottomFlags); err != nil {
		return snapshot, err
	}
	if snapshot.Accessories, err = loadItems(combinations.RoleAccessory, accessoryFlags); err != nil {
		return snapshot, err
	}
	snapshot.Volumetric = volumetric
	return snapshot, nil
}

func newStylist(ctx context.Context) (*services.GeminiStylist, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is not set")
	}
	// photos are read from disk, the loader never has to presign anything
	loader, err := services.NewImageLoader(nil)
	if err != nil {
		return nil, err
	}
	return services.NewGeminiStylist(ctx, apiKey, loader)
}

// lookSeparator joins top and bottom ids in output file names. parseItem
// rejects ids containing it, so two combinations never share a file.
const lookSeparator = "+"

func lookName(key combinations.TaskKey) string {
	return key.TopID + lookSeparator + key.BottomID
}

// lookWriter writes every completed look and its critique into dir.
type lookWriter struct {
	dir string
}

func (w *lookWriter) OnRunStarted(states []combinations.TaskState) {
	fmt.Printf("Rendering %d combinations\n", len(states))
}

func (w *lookWriter) OnTaskUpdated(state combinations.TaskState) {
	fmt.Println(state)
	base := filepath.Join(w.dir, lookName(state.Key))
	if state.Phase == combinations.PhaseImageReady && state.Image != nil && len(state.Image.Data) > 0 {
		if err := os.WriteFile(base+".png", state.Image.Data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	if state.Phase == combinations.PhaseComplete && state.Critique != nil {
		data, _ := json.MarshalIndent(state.Critique, "", "  ")
		if err := os.WriteFile(base+".json", data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func (w *lookWriter) OnRunFinished(summary combinations.RunSummary) {
	fmt.Printf("Done: %d completed, %d failed of %d in %v\n", summary.Completed, summary.Failed, summary.Total, summary.Duration)
}

func runCombinations(cmd *cobra.Command, args []string) error {
	snapshot, err := loadSnapshot()
	if err != nil {
		return err
	}
	descriptors, err := combinations.Expand(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stylist, err := newStylist(ctx)
	if err != nil {
		return err
	}
	collection := combinations.NewResultCollection()
	collection.AddObserver(&lookWriter{dir: outDir})

	config := combinations.DefaultConfig()
	config.Tag = "[tryon]"
	if strict {
		config.CritiquePolicy = combinations.CritiqueStrict
	}
	profile := combinations.UserProfile{Occasion: occasion, Volumetric: volumetric}
	summary := combinations.NewRunner(stylist, stylist, collection, config).Run(ctx, descriptors, profile)
	if summary.Completed == 0 {
		return fmt.Errorf("no combination rendered")
	}
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	if len(bodyPaths) == 0 {
		return fmt.Errorf("--body needs at least one photo")
	}
	body, err := loadImages(bodyPaths[:1])
	if err != nil {
		return err
	}
	stylist, err := newStylist(cmd.Context())
	if err != nil {
		return err
	}
	detected, err := stylist.DetectProfile(cmd.Context(), body[0])
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(detected, "", "  ")
	fmt.Println(string(out))
	return nil
}
