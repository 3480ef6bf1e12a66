package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"seismod"
)

func main() {
	cmd := &cli.Command{
		Name:  "seismod",
		Usage: "Acoustic finite-difference modeling, RTM, and FWI gradients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to scenario file",
				Value:   "scenario.yaml",
				Sources: cli.EnvVars("SEISMOD_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output directory",
				Value:   ".",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "forward",
				Usage:  "Model shot gathers through the scenario velocity model",
				Action: runForward,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "shots",
						Usage: "Number of shots spread along the receiver line",
						Value: 1,
					},
					&cli.IntFlag{
						Name:  "parallel",
						Usage: "Maximum shots modeled concurrently",
						Value: 4,
					},
				},
			},
			{
				Name:   "gradient",
				Usage:  "Compute the FWI gradient of the background model against data modeled through the full scenario model",
				Action: runGradient,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "shots",
						Usage: "Number of shots spread along the receiver line",
						Value: 1,
					},
					&cli.IntFlag{
						Name:  "parallel",
						Usage: "Maximum shots processed concurrently",
						Value: 2,
					},
				},
			},
			{
				Name:   "forward-freq",
				Usage:  "Model one shot with on-the-fly DFT of the wavefield",
				Action: runForwardFreq,
			},
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func setup(cmd *cli.Command) (*seismod.Scenario, *slog.Logger, error) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	scn, err := seismod.LoadScenario(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	return scn, logger, nil
}

// shotPositions spreads n sources along the receiver line, keeping the
// configured source depth.
func shotPositions(scn *seismod.Scenario, n int) [][]float64 {
	if n <= 1 {
		return [][]float64{scn.Acquisition.Source.Position}
	}
	rc := scn.Acquisition.Receivers
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		f := float64(i) / float64(n-1)
		p := make([]float64, len(rc.First))
		copy(p, scn.Acquisition.Source.Position)
		for d := 1; d < len(p); d++ {
			p[d] = rc.First[d] + f*(rc.Last[d]-rc.First[d])
		}
		out[i] = p
	}
	return out
}

func runForward(ctx context.Context, cmd *cli.Command) error {
	scn, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	model, err := scn.BuildModel()
	if err != nil {
		return err
	}
	dt, nt := scn.TimeAxis(model)
	wavelet := seismod.Ricker(scn.Acquisition.Source.PeakFrequency, nt, dt)
	recCoords := scn.Acquisition.Receivers.Coords()
	shots := shotPositions(scn, int(cmd.Int("shots")))
	opts := scn.Options()
	outDir := cmd.String("out")

	logger.Info("forward modeling",
		slog.Int("shots", len(shots)),
		slog.Int("nt", nt),
		slog.Float64("dt", dt),
		slog.Int("receivers", len(recCoords)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(int(cmd.Int("parallel")))
	for i, pos := range shots {
		i, pos := i, pos
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			rec, _, err := seismod.Forward(model, [][]float64{pos}, wavelet, recCoords, opts...)
			if err != nil {
				return fmt.Errorf("shot %d: %w", i, err)
			}
			path := filepath.Join(outDir, fmt.Sprintf("shot_%03d.bin", i))
			if err := writeGather(path, rec); err != nil {
				return fmt.Errorf("shot %d: %w", i, err)
			}
			logger.Info("shot done",
				slog.Int("shot", i),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("output", path))
			return nil
		})
	}
	return g.Wait()
}

func runGradient(ctx context.Context, cmd *cli.Command) error {
	scn, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	trueModel, err := scn.BuildModel()
	if err != nil {
		return err
	}
	// The background model drops the layers; its misfit against data
	// modeled through the full scenario model drives the gradient.
	bg := *scn
	bg.Model.Velocity.Layers = nil
	bgModel, err := bg.BuildModel()
	if err != nil {
		return err
	}
	dt, nt := scn.TimeAxis(trueModel)
	wavelet := seismod.Ricker(scn.Acquisition.Source.PeakFrequency, nt, dt)
	recCoords := scn.Acquisition.Receivers.Coords()
	shots := shotPositions(scn, int(cmd.Int("shots")))
	opts := scn.Options()
	opts = append(opts, seismod.WithDt(dt))

	gradOpts := append([]seismod.Option{}, opts...)
	if scn.Run.Checkpoints > 0 {
		gradOpts = append(gradOpts, seismod.WithCheckpoints(scn.Run.Checkpoints))
	}

	logger.Info("gradient computation",
		slog.Int("shots", len(shots)),
		slog.Int("nt", nt),
		slog.Int("checkpoints", scn.Run.Checkpoints))

	var mu sync.Mutex
	var total []float64
	var misfit float64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(int(cmd.Int("parallel")))
	for i, pos := range shots {
		i, pos := i, pos
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src := [][]float64{pos}
			observed, _, err := seismod.Forward(trueModel, src, wavelet, recCoords, opts...)
			if err != nil {
				return fmt.Errorf("shot %d observed: %w", i, err)
			}
			var fval float64
			var grad []float64
			if scn.Run.Checkpoints > 0 {
				fval, grad, err = seismod.BornGradient(bgModel, src, wavelet, recCoords, observed, gradOpts...)
			} else {
				saveOpts := append(append([]seismod.Option{}, opts...), seismod.WithSave())
				var sim *seismod.Gather
				var u *seismod.Wavefield
				sim, u, err = seismod.Forward(bgModel, src, wavelet, recCoords, saveOpts...)
				if err != nil {
					return fmt.Errorf("shot %d forward: %w", i, err)
				}
				residual := seismod.NewGather(sim.NT, sim.NR)
				for j := range residual.Data {
					residual.Data[j] = sim.Data[j] - observed.Data[j]
					fval += 0.5 * residual.Data[j] * residual.Data[j]
				}
				fieldOpts := append(append([]seismod.Option{}, gradOpts...),
					seismod.WithForwardField(u), seismod.WithResidual())
				_, grad, err = seismod.BornGradient(bgModel, src, wavelet, recCoords, residual, fieldOpts...)
			}
			if err != nil {
				return fmt.Errorf("shot %d gradient: %w", i, err)
			}
			mu.Lock()
			if total == nil {
				total = make([]float64, len(grad))
			}
			for j, v := range grad {
				total[j] += v
			}
			misfit += fval
			mu.Unlock()
			logger.Info("shot gradient done", slog.Int("shot", i), slog.Float64("misfit", fval))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	path := filepath.Join(cmd.String("out"), "gradient.bin")
	if err := writeField(path, scn.Model.Shape, total); err != nil {
		return err
	}
	logger.Info("gradient written",
		slog.String("output", path),
		slog.Float64("misfit", misfit))
	return nil
}

func runForwardFreq(ctx context.Context, cmd *cli.Command) error {
	scn, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if len(scn.Run.Frequencies) == 0 {
		return fmt.Errorf("scenario has no run.frequencies")
	}
	model, err := scn.BuildModel()
	if err != nil {
		return err
	}
	dt, nt := scn.TimeAxis(model)
	wavelet := seismod.Ricker(scn.Acquisition.Source.PeakFrequency, nt, dt)
	recCoords := scn.Acquisition.Receivers.Coords()

	rec, ff, err := seismod.ForwardFreq(model,
		[][]float64{scn.Acquisition.Source.Position},
		wavelet, recCoords, scn.Run.Frequencies, scn.Options()...)
	if err != nil {
		return err
	}
	outDir := cmd.String("out")
	if err := writeGather(filepath.Join(outDir, "shot_freq.bin"), rec); err != nil {
		return err
	}
	for k := range ff.Freqs {
		re := filepath.Join(outDir, fmt.Sprintf("ufr_%03d.bin", k))
		if err := writeField(re, model.Dims, ff.Real[k]); err != nil {
			return err
		}
		im := filepath.Join(outDir, fmt.Sprintf("ufi_%03d.bin", k))
		if err := writeField(im, model.Dims, ff.Imag[k]); err != nil {
			return err
		}
	}
	logger.Info("frequency-domain shot done",
		slog.Int("frequencies", len(ff.Freqs)),
		slog.Int("nt", nt))
	return nil
}

// writeGather writes a gather as little-endian binary: two int32 axis
// lengths followed by float32 samples.
func writeGather(path string, g *seismod.Gather) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	hdr := []int32{int32(g.NT), int32(g.NR)}
	if err := binary.Write(f, binary.LittleEndian, hdr); err != nil {
		return err
	}
	return writeFloat32(f, g.Data)
}

// writeField writes a dense field with its shape header.
func writeField(path string, shape []int, data []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	hdr := make([]int32, 0, len(shape)+1)
	hdr = append(hdr, int32(len(shape)))
	for _, s := range shape {
		hdr = append(hdr, int32(s))
	}
	if err := binary.Write(f, binary.LittleEndian, hdr); err != nil {
		return err
	}
	return writeFloat32(f, data)
}

func writeFloat32(f *os.File, data []float64) error {
	buf := make([]float32, len(data))
	for i, v := range data {
		buf[i] = float32(v)
	}
	return binary.Write(f, binary.LittleEndian, buf)
}
