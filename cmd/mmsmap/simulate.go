package main

import (
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	iec61850 "github.com/marrasen/iec61850server"
)

var (
	simulateDuration time.Duration
	updateInterval   time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [MODEL]",
	Short: "Run the report and GOOSE engine against simulated measurements",
	Long: `Compiles the model, enables every GOOSE control block and every report
control block for a local client, and updates all FLOAT32 measurements with a
sine wave. Reports and GOOSE messages are written to the log instead of the
network.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().DurationVar(&simulateDuration, "duration", 0, "Stop after this duration (0 runs until interrupted)")
	simulateCmd.Flags().DurationVar(&updateInterval, "update-interval", 100*time.Millisecond, "Interval between measurement updates")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg := serverConfig()
	cfg.ReportSender = iec61850.ReportSenderFunc(func(conn *iec61850.ServerConnection, r *iec61850.Report) error {
		logger.Info().Str("rptID", r.RptID).Str("dataSet", r.DataSetRef).Uint32("sqNum", r.SqNum).
			Int("entries", len(r.Entries)).Str("connection", conn.String()).Msg("report")
		return nil
	})
	cfg.GoosePublisher = iec61850.GoosePublisherFunc(func(msg *iec61850.GooseMessage) error {
		logger.Debug().Str("goID", msg.GoID).Uint32("stNum", msg.StNum).Uint32("sqNum", msg.SqNum).
			Dur("tal", msg.TimeAllowedToLive).Uint16("appID", msg.DstAddress.AppID).Msg("GOOSE")
		return nil
	})

	m, err := compileModel(args[0], cfg)
	if err != nil {
		return err
	}
	if err := m.EnableAllGoosePublishing(); err != nil {
		logger.Warn().Err(err).Msg("not all GOOSE control blocks could be enabled")
	}

	conn := iec61850.NewServerConnection("127.0.0.1:102")
	m.ConnectionOpened(conn)
	defer m.ConnectionClosed(conn)
	enableReports(m, conn)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if simulateDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, simulateDuration)
		defer cancel()
	}

	if err := m.StartEventWorker(ctx); err != nil {
		return err
	}
	defer m.StopEventWorker()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return updateMeasurements(ctx, m)
	})
	return eg.Wait()
}

func enableReports(m *iec61850.DeviceMapping, conn *iec61850.ServerConnection) {
	for _, rc := range m.ReportControls() {
		fc := iec61850.FC_RP
		if rc.Buffered {
			fc = iec61850.FC_BR
		}
		item := iec61850.BuildFlattenedID(rc.LogicalNode, fc, rc.Name, "RptEna")
		if err := m.DispatchWrite(conn, rc.LogicalDevice, item, iec61850.NewBooleanValue(true)); err != nil {
			logger.Warn().Err(err).Str("rcb", rc.Reference()).Msg("enabling report control block")
			continue
		}
		logger.Info().Str("rcb", rc.Reference()).Msg("report control block enabled")
	}
}

// updateMeasurements drives every FLOAT32 MX attribute with a sine wave and
// toggles the first boolean status value once per second.
func updateMeasurements(ctx context.Context, m *iec61850.DeviceMapping) error {
	var analog []*iec61850.ModelNode
	var status *iec61850.ModelNode
	for _, ld := range m.Model().LogicalDevices() {
		walkAttributes(ld, func(da *iec61850.ModelNode) {
			switch {
			case da.FC == iec61850.FC_MX && da.DAType == iec61850.DA_TYPE_FLOAT32:
				analog = append(analog, da)
			case status == nil && da.FC == iec61850.FC_ST && da.DAType == iec61850.DA_TYPE_BOOLEAN && da.Name == "stVal":
				status = da
			}
		})
	}
	logger.Info().Int("analog", len(analog)).Msg("simulation started")

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()
	start := time.Now()
	lastToggle := start
	state := false
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("simulation stopped")
			return nil
		case now := <-ticker.C:
			phase := now.Sub(start).Seconds()
			for i, da := range analog {
				v := 100 * math.Sin(phase+float64(i)*math.Pi/4)
				if err := m.UpdateFloatAttributeValue(da, float32(v)); err != nil {
					return err
				}
			}
			if status != nil && now.Sub(lastToggle) >= time.Second {
				state = !state
				lastToggle = now
				if err := m.UpdateBooleanAttributeValue(status, state); err != nil {
					return err
				}
			}
		}
	}
}

func walkAttributes(n *iec61850.ModelNode, fn func(da *iec61850.ModelNode)) {
	for _, c := range n.Children() {
		if c.Type == iec61850.DataAttributeModelType && len(c.Children()) == 0 {
			fn(c)
			continue
		}
		walkAttributes(c, fn)
	}
}
