// Command smiles trains a generator on a file of SMILES
// strings, one per line, and prints some samples.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"strings"

	molbot "github.com/stjordanis/MolBot"
	"github.com/stjordanis/MolBot/finetune"
	"github.com/stjordanis/MolBot/reward"
	"github.com/unixpickle/rip"
	"gonum.org/v1/gonum/stat"
)

func main() {
	var dataPath string
	var configPath string
	var bundlePath string
	var numSamples int
	var temperature float64
	var fineTune bool
	flag.StringVar(&dataPath, "data", "", "file with one string per line")
	flag.StringVar(&configPath, "config", "", "optional YAML configuration")
	flag.StringVar(&bundlePath, "bundle", "generator_out", "path to save/load the trained state")
	flag.IntVar(&numSamples, "samples", 10, "number of strings to generate")
	flag.Float64Var(&temperature, "temperature", 0.75, "sampling temperature")
	flag.BoolVar(&fineTune, "finetune", false, "fine-tune towards syntactically valid strings")
	flag.Parse()

	if dataPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	log.Println("Setting up...")
	cfg := molbot.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = molbot.LoadConfig(configPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	data, err := readLines(dataPath)
	if err != nil {
		log.Fatal(err)
	}
	gen, err := molbot.New(cfg, data)
	if err != nil {
		log.Fatal(err)
	}
	gen.Logger = log.New(os.Stderr, "", log.LstdFlags)

	if bundle, err := molbot.LoadBundle(bundlePath); err == nil {
		log.Println("Loaded existing state.")
		if err := gen.Import(bundle); err != nil {
			log.Fatal(err)
		}
	} else {
		log.Println("Press ctrl+c once to stop training...")
		ctx := interruptContext()
		if err := gen.Fit(ctx, data); err != nil && ctx.Err() == nil {
			log.Fatal(err)
		}
	}

	if fineTune {
		log.Println("Press ctrl+c once to stop fine-tuning...")
		r, err := reward.NewCached(&reward.Gate{
			Validator: reward.Syntax{},
			Func: reward.ScoreFunc(func(s string) (float64, bool) {
				return 1, true
			}),
		}, 1000)
		if err != nil {
			log.Fatal(err)
		}
		ctx := interruptContext()
		_, err = gen.FineTune(ctx, r, finetune.Config{Temperature: temperature})
		if err != nil && ctx.Err() == nil {
			log.Fatal(err)
		}
	}

	if gen.State() == molbot.Untrained {
		log.Fatal("no model was trained")
	}

	log.Println("Saving...")
	bundle, err := gen.Export()
	if err != nil {
		log.Fatal(err)
	}
	if err := bundle.Save(bundlePath); err != nil {
		log.Fatal(err)
	}

	log.Println("Sampling...")
	opts := molbot.PredictOptions{Temperature: temperature}
	var samples []string
	if gen.Config.Policy == molbot.PolicyFull {
		samples, err = gen.Generate(context.Background(), numSamples, opts)
	} else {
		samples, err = gen.PredictIndices(context.Background(), firstIndices(numSamples, len(data)),
			opts)
	}
	if err != nil {
		log.Fatal(err)
	}
	for _, s := range samples {
		log.Println(s)
	}
	log.Println("Valid fraction:", reward.ValidFraction(samples, reward.Syntax{}))
	fp := &reward.NGrams{Validator: reward.Syntax{}}
	coeffs, duplicates, err := gen.ScoreSimilarity(fp, samples, data)
	if err == nil && len(coeffs) > 0 {
		log.Println("Mean similarity to data:", stat.Mean(coeffs, nil), "duplicates:", duplicates)
	}
}

func interruptContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	r := rip.NewRIP()
	go func() {
		<-r.Chan()
		cancel()
	}()
	return ctx
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var res []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			res = append(res, line)
		}
	}
	return res, scanner.Err()
}

func firstIndices(n, limit int) []int {
	var res []int
	for i := 0; i < n && i < limit; i++ {
		res = append(res, i)
	}
	return res
}
