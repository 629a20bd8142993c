package bus

import "strings"

// Topic names are deterministic functions of entity identifiers so every
// process addressing the same entity lands on the same channel.

func LoadTopic(loadID string) string { return "load:" + loadID }

func DriverTopic(driverID string) string { return "driver:" + driverID }

func CompanyTopic(companyID string) string { return "company:" + companyID }

// ChatTopic is symmetric: both participants resolve to the same topic
// regardless of operand order.
func ChatTopic(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return "chat:" + userA + ":" + userB
}
