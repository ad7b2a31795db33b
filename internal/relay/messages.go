package relay

// Wire protocol: JSON messages over a websocket, one object per frame.
// Responses are scoped to the originating connection; nothing broadcasts.

const (
	// Client -> server.
	TypeAuth           = "AUTH"
	TypeStartAttempt   = "START_ATTEMPT"
	TypeObstaclePassed = "OBSTACLE_PASSED"
	TypeCrash          = "CRASH"

	// Server -> client.
	TypeAuthChallenge  = "AUTH_CHALLENGE"
	TypeAuthOK         = "AUTH_OK"
	TypeAuthFailed     = "AUTH_FAILED"
	TypeAttemptStarted = "ATTEMPT_STARTED"
	TypeScoreRecorded  = "SCORE_RECORDED"
	TypeError          = "ERROR"
)

// inboundMsg is the flat client envelope; fields beyond Type are set
// depending on the message type.
type inboundMsg struct {
	Type         string `json:"type"`
	Address      string `json:"address,omitempty"`
	Signature    string `json:"signature,omitempty"`
	TournamentID uint64 `json:"tournamentId,omitempty"`
	ObstacleID   int64  `json:"obstacleId,omitempty"`
}

type authChallengeMsg struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
}

type authOKMsg struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

type authFailedMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type attemptStartedMsg struct {
	Type   string `json:"type"`
	TxHash string `json:"txHash"`
}

type scoreRecordedMsg struct {
	Type   string `json:"type"`
	Score  int64  `json:"score"`
	TxHash string `json:"txHash"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
