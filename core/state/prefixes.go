package state

var (
	rewardCounterKey   = []byte("rewards/counter")
	rewardAuthorityKey = []byte("rewards/authority")
	rewardRecordKeyFmt = "rewards/record/%020d"
)
