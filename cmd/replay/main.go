// Command replay runs a recorded session through the estimation pipeline
// offline and writes the resulting trajectory as CSV. With a reference
// track it also reports positioning RMSE.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"positioning-go/binlog"
	"positioning-go/config"
	"positioning-go/fusion"
	"positioning-go/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration")
	sessionPath := flag.String("session", "", "Recorded session file")
	outPath := flag.String("out", "trajectory.csv", "Output CSV path")
	refPath := flag.String("ref", "", "Optional reference CSV for RMSE")
	maxShift := flag.Int("max-shift", 400, "Max row shift when aligning with the reference")
	flag.Parse()

	if *sessionPath == "" {
		fmt.Fprintln(os.Stderr, "--session required")
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	log.SetLevel(cfg.LogrusLevel())

	pipeline := fusion.NewPipeline(cfg.PipelineConfig(), log)

	rows, err := runSession(pipeline, *sessionPath)
	if err != nil {
		log.WithError(err).Fatal("replay")
	}
	if err := writeCSV(*outPath, rows); err != nil {
		log.WithError(err).Fatal("write csv")
	}
	log.WithField("rows", len(rows)-1).WithField("path", *outPath).Info("trajectory written")

	if *refPath != "" {
		rmse, shift, err := compareWithRef(*outPath, *refPath, *maxShift)
		if err != nil {
			log.WithError(err).Fatal("rmse compare")
		}
		fmt.Printf("ref shift %d rows, RMSE %.3f m\n", shift, rmse)
	}
}

// runSession feeds every record through the same decode path the live
// server uses and collects one CSV row per valid estimate.
func runSession(pipeline *fusion.Pipeline, path string) ([][]string, error) {
	r, err := binlog.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rows := [][]string{{"ts_ms", "x_m", "y_m", "accuracy_m", "confidence", "source"}}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		pos, err := server.Dispatch(pipeline, rec.Type, rec.Payload, rec.TimestampMs)
		if err != nil {
			continue // skip malformed records, keep the session going
		}
		if !pos.IsValid() {
			continue
		}
		rows = append(rows, []string{
			strconv.FormatInt(pos.TimestampMs, 10),
			fmt.Sprintf("%.4f", pos.X),
			fmt.Sprintf("%.4f", pos.Y),
			fmt.Sprintf("%.3f", pos.AccuracyM),
			fmt.Sprintf("%.3f", pos.Confidence),
			pos.Source.String(),
		})
	}
	return rows, nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// compareWithRef aligns the produced trajectory with a reference track by
// searching row shifts and reports the best RMSE.
func compareWithRef(predPath, refPath string, maxShift int) (float64, int, error) {
	pred, err := readXY(predPath)
	if err != nil {
		return 0, 0, err
	}
	ref, err := readXY(refPath)
	if err != nil {
		return 0, 0, err
	}
	bestShift := 0
	bestRmse := math.MaxFloat64
	for shift := -maxShift; shift <= maxShift; shift++ {
		var n int
		var sum float64
		if shift >= 0 {
			n = min(len(pred)-shift, len(ref))
			if n <= 0 {
				continue
			}
			for i := 0; i < n; i++ {
				dx := pred[i+shift][0] - ref[i][0]
				dy := pred[i+shift][1] - ref[i][1]
				sum += dx*dx + dy*dy
			}
		} else {
			s := -shift
			n = min(len(ref)-s, len(pred))
			if n <= 0 {
				continue
			}
			for i := 0; i < n; i++ {
				dx := pred[i][0] - ref[i+s][0]
				dy := pred[i][1] - ref[i+s][1]
				sum += dx*dx + dy*dy
			}
		}
		rmse := math.Sqrt(sum / float64(n))
		if rmse < bestRmse {
			bestRmse = rmse
			bestShift = shift
		}
	}
	if bestRmse == math.MaxFloat64 {
		return 0, 0, fmt.Errorf("no overlapping rows")
	}
	return bestRmse, bestShift, nil
}

func readXY(path string) ([][2]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) <= 1 {
		return nil, fmt.Errorf("no rows")
	}
	idxX := indexOf(recs[0], "x_m")
	idxY := indexOf(recs[0], "y_m")
	if idxX < 0 || idxY < 0 {
		return nil, fmt.Errorf("x_m/y_m columns not found")
	}
	out := make([][2]float64, 0, len(recs)-1)
	for _, row := range recs[1:] {
		if len(row) <= idxX || len(row) <= idxY {
			continue
		}
		x, _ := strconv.ParseFloat(row[idxX], 64)
		y, _ := strconv.ParseFloat(row[idxY], 64)
		out = append(out, [2]float64{x, y})
	}
	return out, nil
}

func indexOf(header []string, key string) int {
	for i, v := range header {
		if v == key {
			return i
		}
	}
	return -1
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
