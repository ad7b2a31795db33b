package ledger

// tournamentABI covers the slice of the MegaRally tournament contract the
// relay talks to: entry/tournament reads for preflight checks, the
// state-changing calls submitted through the sequencer, and the operator
// fee accounting.
const tournamentABI = `[
  {"type":"function","name":"tournamentCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tournaments","stateMutability":"view","inputs":[{"name":"tournamentId","type":"uint256"}],"outputs":[{"name":"endTime","type":"uint256"},{"name":"ended","type":"bool"},{"name":"prizePool","type":"uint256"}]},
  {"type":"function","name":"entries","stateMutability":"view","inputs":[{"name":"tournamentId","type":"uint256"},{"name":"player","type":"address"}],"outputs":[{"name":"tickets","type":"uint256"},{"name":"attemptsUsed","type":"uint256"}]},
  {"type":"function","name":"attemptsPerTicket","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"pendingFees","stateMutability":"view","inputs":[{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"startAttempt","stateMutability":"nonpayable","inputs":[{"name":"tournamentId","type":"uint256"},{"name":"player","type":"address"}],"outputs":[]},
  {"type":"function","name":"recordObstacle","stateMutability":"nonpayable","inputs":[{"name":"tournamentId","type":"uint256"},{"name":"player","type":"address"},{"name":"obstacleId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"submitScore","stateMutability":"nonpayable","inputs":[{"name":"tournamentId","type":"uint256"},{"name":"player","type":"address"},{"name":"score","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"finalizeTournament","stateMutability":"nonpayable","inputs":[{"name":"tournamentId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"claimFees","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`
