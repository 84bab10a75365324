package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"downpour/cmd"
	"downpour/config"
	"downpour/extractor"
	"downpour/registry"
	"downpour/services"
	"downpour/transcode"
	"downpour/types"
)

func main() {
	server := flag.Bool("server", false, "run the HTTP API server")
	port := flag.String("port", config.GetPort(), "server port")

	url := flag.String("url", "", "media URL to download")
	format := flag.String("format", "video", "media kind: audio or video")
	quality := flag.String("quality", "highest", "quality: highest, medium or lowest")
	fileFormat := flag.String("file-format", "", "target container (mp3, mp4, ...)")
	output := flag.String("output", ".", "output directory")
	flag.Parse()

	if *server {
		if err := cmd.StartWebServer(*port); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *url == "" {
		flag.Usage()
		os.Exit(2)
	}

	req := types.DownloadRequest{
		URL:        *url,
		Format:     types.MediaKind(*format),
		Quality:    *quality,
		FileFormat: *fileFormat,
	}
	if req.Format != types.MediaAudio && req.Format != types.MediaVideo {
		fmt.Fprintln(os.Stderr, "format must be audio or video")
		os.Exit(2)
	}
	if req.FileFormat == "" {
		if req.Format == types.MediaAudio {
			req.FileFormat = "mp3"
		} else {
			req.FileFormat = "mp4"
		}
	}

	if err := runCLI(req, *output); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCLI performs one download in the foreground with a terminal progress
// bar, then moves the artifact into the chosen output directory.
func runCLI(req types.DownloadRequest, output string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	work, err := os.MkdirTemp("", "downpour-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	reg := registry.New()
	ex := extractor.NewYTDLP(config.GetYTDLPPath(), log)
	tc := transcode.NewFFmpeg(config.GetFFmpegPath(), log)

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	worker := services.NewWorker(reg, ex, tc, &barSink{bar: bar}, work, log)

	job, err := worker.CreateJob(req)
	if err != nil {
		return err
	}
	if err := worker.Run(context.Background(), job.ID); err != nil {
		return err
	}

	done, err := reg.Jobs.Get(job.ID)
	if err != nil {
		return err
	}
	_ = bar.Finish()

	if err := os.MkdirAll(output, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(output, done.Artifact)
	if err := os.Rename(filepath.Join(done.Dir, done.Artifact), dst); err != nil {
		return err
	}

	fmt.Printf("saved %s\n", dst)
	return nil
}

// barSink adapts the progress bar to the worker's sink interface.
type barSink struct {
	bar *progressbar.ProgressBar
}

func (s *barSink) Publish(msg types.ProgressMessage) {
	if msg.Type == "progress" || msg.Type == "complete" {
		_ = s.bar.Set(int(msg.Progress))
	}
}
