package agent

import (
	"fmt"
	"strconv"
	"time"
)

func welcomeRequester(agentID int, delay time.Duration) string {
	secs := strconv.FormatFloat(delay.Seconds(), 'f', -1, 64)
	return fmt.Sprintf("WELCOME Agent %d. Waiting to send help request after %s seconds.", agentID, secs)
}

func welcomeHelper(agentID int) string {
	return fmt.Sprintf("WELCOME Agent %d. Waiting for help request.", agentID)
}

func requestSent(requestID, agentID int) string {
	return fmt.Sprintf("Help request %d sent by Agent %d.", requestID, agentID)
}

func receivedSupport(agentID int) string {
	return fmt.Sprintf("Received support from Agent %d.", agentID)
}

func helperResponded(agentID, requestID int) string {
	return fmt.Sprintf("Agent %d responded to help request %d.", agentID, requestID)
}

func helperNotResponded(agentID int) string {
	return fmt.Sprintf("Agent %d did not respond.", agentID)
}

func requestSatisfied(requestID int) string {
	return fmt.Sprintf("Help request %d satisfied. Ending program successfully.", requestID)
}

func requestExpired(requestID, supports int) string {
	return fmt.Sprintf("Help request %d expired with %d supports. Ending program unsuccessfully.", requestID, supports)
}
