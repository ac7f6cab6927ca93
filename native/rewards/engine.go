package rewards

import (
	"rewardledger/core/events"
)

// EngineState describes the minimal functionality the reward engine needs from
// the surrounding state implementation.
type EngineState interface {
	RewardCounter() (uint64, error)
	SetRewardCounter(value uint64) error
	RewardGet(id uint64) (*Reward, bool, error)
	RewardPut(reward *Reward) error
	RewardAuthority() ([20]byte, bool, error)
}

// Engine applies reward ledger transitions against injected state. The engine
// performs no locking or persistence of its own: callers serialise
// invocations and commit or discard all staged writes of one call as a unit.
type Engine struct {
	state   EngineState
	emitter events.Emitter
}

// NewEngine constructs an engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState wires the engine to a state implementation.
func (e *Engine) SetState(state EngineState) {
	e.state = state
}

// SetEmitter configures the event emitter used to broadcast ledger changes.
// Passing nil resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) isAuthority(addr [20]byte) (bool, error) {
	authority, ok, err := e.state.RewardAuthority()
	if err != nil {
		return false, err
	}
	return ok && authority == addr, nil
}

func (e *Engine) requireAuthority(caller [20]byte) error {
	ok, err := e.isAuthority(caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthority
	}
	return nil
}

// mintOne is the allocation+write unit shared by Mint and MintBatch items.
// The counter only advances together with a successful record write; a failure
// anywhere leaves both for the caller to discard.
func (e *Engine) mintOne(owner [20]byte, points uint64, annotation string) (uint64, error) {
	counter, err := e.state.RewardCounter()
	if err != nil {
		return 0, err
	}
	id := counter + 1
	reward := &Reward{ID: id, Owner: owner, Points: points, Annotation: annotation}
	if err := e.state.RewardPut(reward); err != nil {
		return 0, err
	}
	if err := e.state.SetRewardCounter(id); err != nil {
		return 0, err
	}
	e.emit(events.RewardMinted{ID: id, Owner: owner, Points: points, Annotation: annotation})
	return id, nil
}

// Mint issues a new reward owned by the caller. Only the mint authority may
// mint, and ownership always starts with the authority itself; distribution
// happens through Transfer.
func (e *Engine) Mint(caller [20]byte, points uint64) (uint64, error) {
	if err := e.requireAuthority(caller); err != nil {
		return 0, err
	}
	if points < MinPoints {
		return 0, ErrInvalidPoints
	}
	return e.mintOne(caller, points, "")
}

// MintBatch issues up to MaxBatchSize rewards in one call, folding the values
// left to right. Items failing the per-item points check are skipped silently:
// they contribute no id, advance no counter, and surface no error. Only the
// top-level preconditions reject the batch as a whole.
func (e *Engine) MintBatch(caller [20]byte, points []uint64, annotation string) ([]uint64, error) {
	if err := e.requireAuthority(caller); err != nil {
		return nil, err
	}
	if len(points) == 0 || len(points) > MaxBatchSize {
		return nil, ErrBatchSize
	}
	if len(annotation) > MaxAnnotationLength {
		return nil, ErrAnnotationLength
	}
	minted := make([]uint64, 0, len(points))
	for _, value := range points {
		if value < MinPoints {
			continue
		}
		id, err := e.mintOne(caller, value, annotation)
		if err != nil {
			return nil, err
		}
		minted = append(minted, id)
	}
	e.emit(events.RewardBatchMinted{
		Authority:  caller,
		Requested:  len(points),
		MintedIDs:  append([]uint64(nil), minted...),
		Skipped:    len(points) - len(minted),
		Annotation: annotation,
	})
	return minted, nil
}

// Burn irreversibly retires a reward. Only the current owner may burn, and a
// burned reward stays queryable with its final owner and points.
func (e *Engine) Burn(caller [20]byte, id uint64) error {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil {
		return err
	}
	if !ok || reward.Owner != caller {
		return ErrNotOwner
	}
	if reward.Burned {
		return ErrAlreadyBurned
	}
	reward.Burned = true
	if err := e.state.RewardPut(reward); err != nil {
		return err
	}
	e.emit(events.RewardBurned{ID: id, Owner: caller})
	return nil
}

// UpdatePoints overwrites the stored point balance. The current owner or the
// mint authority may update; third parties are rejected with the not-owner
// kind.
func (e *Engine) UpdatePoints(caller [20]byte, id uint64, points uint64) error {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOwner
	}
	if reward.Owner != caller {
		authority, err := e.isAuthority(caller)
		if err != nil {
			return err
		}
		if !authority {
			return ErrNotOwner
		}
	}
	if reward.Burned {
		return ErrAlreadyBurned
	}
	if points < MinPoints {
		return ErrInvalidPoints
	}
	old := reward.Points
	reward.Points = points
	if err := e.state.RewardPut(reward); err != nil {
		return err
	}
	e.emit(events.RewardPointsUpdated{ID: id, Caller: caller, OldPoints: old, NewPoints: points})
	return nil
}

// Transfer reassigns ownership. The sender must equal both the invoking caller
// and the recorded owner.
func (e *Engine) Transfer(caller, sender, recipient [20]byte, id uint64) error {
	if sender != caller {
		return ErrNotOwner
	}
	reward, ok, err := e.state.RewardGet(id)
	if err != nil {
		return err
	}
	if !ok || reward.Owner != sender {
		return ErrNotOwner
	}
	if reward.Burned {
		return ErrAlreadyBurned
	}
	if recipient == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	from := reward.Owner
	reward.Owner = recipient
	if err := e.state.RewardPut(reward); err != nil {
		return err
	}
	e.emit(events.RewardTransferred{ID: id, From: from, To: recipient})
	return nil
}
