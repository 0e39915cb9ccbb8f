package services

import (
	"context"
	"fmt"
	"time"

	"github.com/backsoul/partidas/pkg/logger"
	"github.com/go-co-op/gocron/v2"
)

// DeadlineSweeper cierra periódicamente las partidas cuyo tiempo ha vencido,
// aunque ningún cliente consulte su estado.
type DeadlineSweeper struct {
	partidaService *PartidaService
	interval       time.Duration
	onFinished     func(code string)
	scheduler      gocron.Scheduler
}

func NewDeadlineSweeper(partidaService *PartidaService, interval time.Duration) *DeadlineSweeper {
	return &DeadlineSweeper{
		partidaService: partidaService,
		interval:       interval,
	}
}

// SetOnFinished registra un callback para cada partida cerrada por el barrido
func (d *DeadlineSweeper) SetOnFinished(fn func(code string)) {
	d.onFinished = fn
}

// Start arranca el job de gocron
func (d *DeadlineSweeper) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("error creando scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(d.interval),
		gocron.NewTask(func() {
			d.RunOnce(context.Background())
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("error programando barrido de partidas: %w", err)
	}

	sched.Start()
	d.scheduler = sched
	logger.Info("⏱️  Barrido de partidas cada %s", d.interval)
	return nil
}

// Stop detiene el scheduler
func (d *DeadlineSweeper) Stop() error {
	if d.scheduler == nil {
		return nil
	}
	return d.scheduler.Shutdown()
}

// RunOnce ejecuta una pasada de barrido
func (d *DeadlineSweeper) RunOnce(ctx context.Context) {
	finalized, err := d.partidaService.SweepActive(ctx)
	if err != nil {
		logger.Warn("[Sweeper] errores durante el barrido: %v", err)
	}

	for _, code := range finalized {
		logger.Info("🏁 Partida %s cerrada por tiempo", code)
		if d.onFinished != nil {
			d.onFinished(code)
		}
	}
}
