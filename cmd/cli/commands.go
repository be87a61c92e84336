package main

import (
	"classifier-backend/pkg/api"
	"classifier-backend/pkg/client"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

func requireFlags(fs *flag.FlagSet, names ...string) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, name := range names {
		if !set[name] {
			return fmt.Errorf("missing required flag -%s", name)
		}
	}
	return nil
}

func credentialFlags(name string, args []string) (string, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	username := fs.String("username", "", "account name")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if err := requireFlags(fs, "username", "password"); err != nil {
		return "", "", err
	}
	return *username, *password, nil
}

func runRegister(ctx context.Context, c *cli, args []string) error {
	username, password, err := credentialFlags("register", args)
	if err != nil {
		return err
	}

	user, err := c.client.Register(ctx, username, password)
	if err != nil {
		return err
	}

	fmt.Printf("registered %s (%s)\n", user.Username, user.Id)
	return nil
}

func runLogin(ctx context.Context, c *cli, args []string) error {
	username, password, err := credentialFlags("login", args)
	if err != nil {
		return err
	}

	res, err := c.client.Login(ctx, username, password)
	if err != nil {
		return err
	}

	if err := c.saveToken(res.Token); err != nil {
		return err
	}

	fmt.Printf("logged in as %s, session expires %s\n", res.User.Username, res.Expires.Local().Format(time.RFC1123))
	return nil
}

func runDatasets(ctx context.Context, c *cli, args []string) error {
	datasets, err := c.client.Datasets(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, d := range datasets {
		fmt.Fprintf(w, "%s\t%s\n", d.Name, d.Description)
	}
	return w.Flush()
}

func runTrain(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	dataset := fs.String("dataset", "", "dataset to train on")
	epochs := fs.Int("epochs", 5, "number of epochs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "dataset"); err != nil {
		return err
	}

	taskId, err := c.client.StartTraining(ctx, *epochs, *dataset)
	if err != nil {
		if client.IsStatus(err, http.StatusConflict) {
			return errors.New("a training job is already running, use 'watch' and 'finish'")
		}
		return err
	}

	fmt.Printf("started training task %s\n", taskId)
	return nil
}

func runWatch(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	interval := fs.Duration("interval", time.Second, "polling interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		progress, err := c.client.Progress(ctx)
		if err != nil {
			return err
		}

		if bar == nil && progress.Epochs > 0 {
			bar = progressbar.NewOptions(progress.Epochs,
				progressbar.OptionSetDescription("training "+progress.TaskId.String()[:8]),
				progressbar.OptionSetWidth(30),
				progressbar.OptionShowCount(),
			)
		}
		if bar != nil {
			_ = bar.Set(progress.Epoch)
			if n := len(progress.Losses); n > 0 {
				bar.Describe(fmt.Sprintf("epoch %d/%d loss %.4f acc %.4f", progress.Epoch, progress.Epochs, progress.Losses[n-1], progress.Accuracies[n-1]))
			}
		}

		switch progress.Status {
		case "FINISHED":
			if bar != nil {
				_ = bar.Finish()
			}
			fmt.Println()
			if progress.TrainAccuracy != nil && progress.TestAccuracy != nil {
				fmt.Printf("finished: train accuracy %.4f, test accuracy %.4f\n", *progress.TrainAccuracy, *progress.TestAccuracy)
			}
			fmt.Println("run 'finish' to save the model")
			return nil
		case "FAILED":
			fmt.Println()
			return fmt.Errorf("training failed: %s", progress.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func runFinish(ctx context.Context, c *cli, args []string) error {
	res, err := c.client.Finish(ctx)
	if err != nil {
		if client.IsStatus(err, http.StatusTooEarly) {
			return errors.New("training has not finished yet")
		}
		return err
	}

	if res.AlreadyReconciled {
		fmt.Printf("task %s was already saved\n", res.TaskId)
		return nil
	}

	fmt.Printf("saved model %s (%s)\n", res.Model.Name, res.Model.Id)
	printRecords([]api.TrainingRecord{*res.Record})
	return nil
}

func printRecords(records []api.TrainingRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tMODEL\tDATASET\tEPOCHS\tTRAIN ACC\tTEST ACC\tCREATED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4f\t%.4f\t%s\n", r.TaskId, r.ModelId, r.Dataset, r.Epochs, r.TrainAccuracy, r.TestAccuracy, r.CreationTime.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}

func runHistory(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of records")
	offset := fs.Int("offset", 0, "records to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	records, err := c.client.TrainingRecords(ctx, *limit, *offset)
	if err != nil {
		return err
	}

	printRecords(records)
	return nil
}

func runModels(ctx context.Context, c *cli, args []string) error {
	models, err := c.client.Models(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUPLOADED\tCREATED")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", m.Id, m.Name, m.Uploaded, m.CreationTime.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runUpload(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	file := fs.String("file", "", "weights file to upload")
	name := fs.String("name", "", "model name, defaults to the file name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "file"); err != nil {
		return err
	}

	model, err := c.client.UploadModel(ctx, *file, *name)
	if err != nil {
		return err
	}

	fmt.Printf("uploaded model %s (%s)\n", model.Name, model.Id)
	return nil
}

func modelFlag(fs *flag.FlagSet) func() (uuid.UUID, error) {
	raw := fs.String("model", "", "model id")
	return func() (uuid.UUID, error) {
		id, err := uuid.Parse(*raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid model id %q: %w", *raw, err)
		}
		return id, nil
	}
}

func runPredict(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	modelId := modelFlag(fs)
	image := fs.String("image", "", "image to classify")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "model", "image"); err != nil {
		return err
	}

	id, err := modelId()
	if err != nil {
		return err
	}

	prediction, err := c.client.Predict(ctx, id, *image)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%.2f%%)\n", prediction.Label, prediction.Confidence*100)
	return nil
}

func runEvaluate(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	modelId := modelFlag(fs)
	dataset := fs.String("dataset", "", "dataset whose test split is used")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "model", "dataset"); err != nil {
		return err
	}

	id, err := modelId()
	if err != nil {
		return err
	}

	evaluation, err := c.client.Evaluate(ctx, id, *dataset)
	if err != nil {
		return err
	}

	fmt.Printf("accuracy %.4f on %d samples of %s\n", evaluation.Accuracy, evaluation.Samples, evaluation.Dataset)
	return nil
}
