package mqtt

import "strings"

// Topic layout, namespaced by the configured root:
//
//	<root>/<line>/agv/<id>/status
//	<root>/<line>/station/<id>/status
//	<root>/<line>/conveyor/<id>/status
//	<root>/warehouse/<id>/status
//	<root>/<line>/alerts
//	<root>/orders
//	<root>/command/<line>
//	<root>/response/<line>

func agvStatusTopic(root, line string) string      { return root + "/" + line + "/agv/+/status" }
func stationStatusTopic(root, line string) string  { return root + "/" + line + "/station/+/status" }
func conveyorStatusTopic(root, line string) string { return root + "/" + line + "/conveyor/+/status" }
func warehouseStatusTopic(root string) string      { return root + "/warehouse/+/status" }
func alertsTopic(root, line string) string         { return root + "/" + line + "/alerts" }
func ordersTopic(root string) string               { return root + "/orders" }

// statusTopic is the concrete (non-wildcard) status topic of one device,
// used when publishing synthetic telemetry.
func statusTopic(root, class, line, device string) string {
	if class == "warehouse" {
		return root + "/warehouse/" + device + "/status"
	}
	return root + "/" + line + "/" + class + "/" + device + "/status"
}

// CommandTopic is the per-line command publish topic.
func CommandTopic(root, line string) string { return root + "/command/" + line }

// ResponseTopic is the per-line command response topic.
func ResponseTopic(root, line string) string { return root + "/response/" + line }

// deviceFromTopic extracts the device id from a status topic, the segment
// before the trailing "status".
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
