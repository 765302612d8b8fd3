package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flowline/flowline/config"
	"github.com/flowline/flowline/core/ingest"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/infra/logger"
	"github.com/flowline/flowline/infra/mqtt"
)

var (
	simLine    string
	simProduct string
	simCount   int
	simBattery float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Inject synthetic line telemetry",
	Long: "Publishes a startup scenario on the status streams of one line: every " +
		"configured AGV idle at the raw material point and the raw material warehouse " +
		"stocked with fresh products. Useful for exercising a running coordinator " +
		"without the factory simulator.",
	RunE: injectTelemetry,
}

func init() {
	simulateCmd.Flags().StringVar(&simLine, "line", "line1", "production line id")
	simulateCmd.Flags().StringVar(&simProduct, "product", "P1", "stocked product type (P1, P2 or P3)")
	simulateCmd.Flags().IntVar(&simCount, "count", 2, "stocked product count")
	simulateCmd.Flags().Float64Var(&simBattery, "battery", 100, "reported AGV battery level")
	rootCmd.AddCommand(simulateCmd)
}

func injectTelemetry(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lineCfg, ok := cfg.Lines[simLine]
	if !ok {
		return fmt.Errorf("unknown line %q", simLine)
	}
	ptype := model.ProductType(simProduct)
	switch ptype {
	case model.ProductP1, model.ProductP2, model.ProductP3:
	default:
		return fmt.Errorf("unknown product type %q", simProduct)
	}

	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Disconnect()

	log := logger.New("simulate-command")
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	for _, agv := range lineCfg.AGVs {
		status := map[string]any{
			"status":        "idle",
			"current_point": model.PointRawMaterial,
			"battery_level": simBattery,
			"timestamp":     now,
		}
		if err := client.PublishStatus(ingest.ClassAGV, simLine, agv, status); err != nil {
			return fmt.Errorf("publish %s status: %w", agv, err)
		}
	}

	stock := make([]string, 0, simCount)
	for i := 0; i < simCount; i++ {
		stock = append(stock, fmt.Sprintf("prod_%s_%s", ptype.Digit(), uuid.NewString()[:8]))
	}
	status := map[string]any{"buffer": stock, "timestamp": now}
	if err := client.PublishStatus(ingest.ClassWarehouse, simLine, model.DeviceRawMaterial, status); err != nil {
		return fmt.Errorf("publish raw material status: %w", err)
	}

	log.Infof("seeded %s: %d AGVs idle at %s, %d %s units stocked",
		simLine, len(lineCfg.AGVs), model.PointRawMaterial, simCount, ptype)
	return nil
}
