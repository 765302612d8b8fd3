package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flowline/flowline/config"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/orders"
	"github.com/flowline/flowline/infra/logger"
	"github.com/flowline/flowline/infra/mqtt"
)

var (
	orderProduct  string
	orderQty      int
	orderPriority string
	orderDeadline float64
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Inject a test order",
	RunE:  injectOrder,
}

func init() {
	orderCmd.Flags().StringVar(&orderProduct, "product", "P1", "product type (P1, P2 or P3)")
	orderCmd.Flags().IntVar(&orderQty, "qty", 1, "unit count")
	orderCmd.Flags().StringVar(&orderPriority, "priority", "medium", "order priority")
	orderCmd.Flags().Float64Var(&orderDeadline, "deadline", 0, "deadline in seconds from now, 0 for none")
	rootCmd.AddCommand(orderCmd)
}

func injectOrder(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ptype := model.ProductType(orderProduct)
	switch ptype {
	case model.ProductP1, model.ProductP2, model.ProductP3:
	default:
		return fmt.Errorf("unknown product type %q", orderProduct)
	}

	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Disconnect()

	msg := orders.Message{
		OrderID:   "order_" + uuid.NewString(),
		CreatedAt: float64(time.Now().Unix()),
		Items:     []model.OrderItem{{ProductType: ptype, Quantity: orderQty}},
		Priority:  orderPriority,
		Deadline:  orderDeadline,
	}
	if err := client.PublishOrder(msg); err != nil {
		return fmt.Errorf("publish order: %w", err)
	}
	logger.New("order-command").Infof("order %s published: %dx %s", msg.OrderID, orderQty, ptype)
	return nil
}
