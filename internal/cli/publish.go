package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/apresai/callsynth/internal/dataset"
)

var (
	flagPublishBucket string
	flagPublishPrefix string
	flagPublishRegion string
	flagPublishReport string
	flagPublishAudio  string
	flagPublishForce  bool
)

var publishCmd = &cobra.Command{
	Use:   "publish <dataset.json>",
	Short: "Upload a finished dataset and its artifacts to S3",
	Long:  "Upload a dataset, its diversity report and any synthesized audio under <prefix>/<run-id>/ in an S3 bucket. Partial datasets are refused unless --force is set.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringVar(&flagPublishBucket, "bucket", os.Getenv("CALLSYNTH_S3_BUCKET"), "S3 bucket")
	publishCmd.Flags().StringVar(&flagPublishPrefix, "prefix", "datasets", "Key prefix")
	publishCmd.Flags().StringVar(&flagPublishRegion, "region", os.Getenv("AWS_REGION"), "AWS region")
	publishCmd.Flags().StringVar(&flagPublishReport, "report", "", "Diversity report to upload alongside the dataset")
	publishCmd.Flags().StringVar(&flagPublishAudio, "audio", "", "Directory of synthesized audio to upload")
	publishCmd.Flags().BoolVar(&flagPublishForce, "force", false, "Publish even if the dataset is partial")
}

// fileUploader is satisfied by *dataset.Uploader.
type fileUploader interface {
	UploadAs(ctx context.Context, runID, localPath, name string) (string, error)
}

// publishFile is a local file and its name under the run prefix.
type publishFile struct {
	local string
	name  string
}

func runPublish(cmd *cobra.Command, args []string) error {
	datasetPath := args[0]
	if flagPublishBucket == "" {
		return fmt.Errorf("missing bucket\nPass --bucket or set CALLSYNTH_S3_BUCKET")
	}

	d, err := dataset.Load(datasetPath)
	if err != nil {
		return err
	}
	if d.Metadata.Partial && !flagPublishForce {
		return fmt.Errorf("%s is a partial dataset (%d of %d planned units finished); pass --force to publish it anyway",
			datasetPath, d.Metadata.Counts.Accepted+d.Metadata.Counts.Rejected, d.Metadata.Counts.Planned)
	}

	files, err := publishFiles(datasetPath, flagPublishReport, flagPublishAudio)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	up, err := dataset.NewUploader(ctx, flagPublishRegion, flagPublishBucket, flagPublishPrefix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run: %s (%d conversations)\n", d.Metadata.RunID, len(d.Conversations))
	return publish(ctx, up, d.Metadata.RunID, files, func(uri string) {
		fmt.Fprintf(out, "  %s\n", uri)
	})
}

// publishFiles lists the dataset, the optional report and every file under
// the optional audio directory, in a stable order. Audio keeps its layout
// below audio/.
func publishFiles(datasetPath, reportPath, audioDir string) ([]publishFile, error) {
	files := []publishFile{{local: datasetPath, name: filepath.Base(datasetPath)}}
	if reportPath != "" {
		if _, err := os.Stat(reportPath); err != nil {
			return nil, fmt.Errorf("cannot access report: %w", err)
		}
		files = append(files, publishFile{local: reportPath, name: filepath.Base(reportPath)})
	}
	if audioDir == "" {
		return files, nil
	}

	var audio []publishFile
	err := filepath.WalkDir(audioDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(audioDir, p)
		if err != nil {
			return err
		}
		audio = append(audio, publishFile{local: p, name: path.Join("audio", filepath.ToSlash(rel))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", audioDir, err)
	}
	sort.Slice(audio, func(i, j int) bool { return audio[i].name < audio[j].name })
	return append(files, audio...), nil
}

func publish(ctx context.Context, up fileUploader, runID string, files []publishFile, done func(uri string)) error {
	for _, f := range files {
		uri, err := up.UploadAs(ctx, runID, f.local, f.name)
		if err != nil {
			return err
		}
		done(uri)
	}
	return nil
}
