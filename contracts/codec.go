// Package contracts knows the ABI of the protocol contracts the provider
// observes: the submission methods whose calldata carries protocol messages
// and the events that describe reward epochs, voters and reward offers.
//
// A Codec is constructed explicitly and passed to whoever needs it; there is
// no package level instance.
package contracts

import (
	"embed"
	"fmt"
	"math/big"
	"path"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/*.json
var abiFiles embed.FS

// Contract names, matching the embedded ABI file names.
const (
	Submission             = "Submission"
	Relay                  = "Relay"
	FlareSystemsManager    = "FlareSystemsManager"
	VoterRegistry          = "VoterRegistry"
	FlareSystemsCalculator = "FlareSystemsCalculator"
	RewardOfferManager     = "RewardOfferManager"
)

// Method names of the transactions the provider reads.
const (
	MethodSubmit1          = "submit1"
	MethodSubmit2          = "submit2"
	MethodSubmitSignatures = "submitSignatures"
	MethodRelay            = "relay"
)

// Event names.
const (
	EventRewardEpochStarted       = "RewardEpochStarted"
	EventRandomAcquisitionStarted = "RandomAcquisitionStarted"
	EventVotePowerBlockSelected   = "VotePowerBlockSelected"
	EventSigningPolicyInitialized = "SigningPolicyInitialized"
	EventVoterRegistered          = "VoterRegistered"
	EventVoterRegistrationInfo    = "VoterRegistrationInfo"
	EventRewardsOffered           = "RewardsOffered"
	EventInflationRewardsOffered  = "InflationRewardsOffered"
)

// SelectorLength is the size of a method selector at the start of calldata.
const SelectorLength = 4

// Selector is the first four bytes of keccak256 of a method signature.
type Selector [SelectorLength]byte

// Hex returns the selector without "0x", the form indexers store it in.
func (s Selector) Hex() string {
	return common.Bytes2Hex(s[:])
}

// Codec decodes protocol events and exposes method selectors.
type Codec struct {
	contracts map[string]abi.ABI
	// event name -> owning contract
	events map[string]string
	// method name -> owning contract
	methods map[string]string
}

// NewCodec parses the embedded ABI definitions.
func NewCodec() (*Codec, error) {
	c := &Codec{
		contracts: make(map[string]abi.ABI),
		events:    make(map[string]string),
		methods:   make(map[string]string),
	}
	for _, name := range []string{Submission, Relay, FlareSystemsManager, VoterRegistry, FlareSystemsCalculator, RewardOfferManager} {
		f, err := abiFiles.Open(path.Join("abi", name+".json"))
		if err != nil {
			return nil, fmt.Errorf("ABI of %s: %w", name, err)
		}
		parsed, err := abi.JSON(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("ABI of %s: %w", name, err)
		}
		c.contracts[name] = parsed
		for ev := range parsed.Events {
			c.events[ev] = name
		}
		for m := range parsed.Methods {
			c.methods[m] = name
		}
	}
	return c, nil
}

// MustNewCodec is NewCodec for program start-up; the ABIs are embedded, so a
// failure is a build defect.
func MustNewCodec() *Codec {
	c, err := NewCodec()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Codec) event(name string) (abi.Event, error) {
	contract, ok := c.events[name]
	if !ok {
		return abi.Event{}, fmt.Errorf("unknown event %s", name)
	}
	return c.contracts[contract].Events[name], nil
}

// EventTopic returns topic0 of the named event.
func (c *Codec) EventTopic(name string) common.Hash {
	ev, err := c.event(name)
	if err != nil {
		panic(err)
	}
	return ev.ID
}

// MethodSelector returns the 4 byte selector of the named method.
func (c *Codec) MethodSelector(name string) Selector {
	contract, ok := c.methods[name]
	if !ok {
		panic(fmt.Sprintf("unknown method %s", name))
	}
	var sel Selector
	copy(sel[:], c.contracts[contract].Methods[name].ID)
	return sel
}

// unpack decodes both the indexed and the data part of a log into a map
// keyed by argument name.
func (c *Codec) unpack(name string, topics []common.Hash, data []byte) (fields, error) {
	ev, err := c.event(name)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 || topics[0] != ev.ID {
		return nil, fmt.Errorf("%w: log is not a %s event", ErrUnexpectedEvent, name)
	}
	out := make(map[string]interface{})
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(topics)-1 != len(indexed) {
		return nil, fmt.Errorf("%s: want %d indexed topics, got %d", name, len(indexed), len(topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(out, indexed, topics[1:]); err != nil {
		return nil, fmt.Errorf("%s topics: %w", name, err)
	}
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(out, data); err != nil {
		return nil, fmt.Errorf("%s data: %w", name, err)
	}
	return out, nil
}

// pack is the inverse of unpack. It is used to build indexer fixtures.
func (c *Codec) pack(name string, values fields) ([]common.Hash, []byte, error) {
	ev, err := c.event(name)
	if err != nil {
		return nil, nil, err
	}
	topics := []common.Hash{ev.ID}
	var data []interface{}
	for _, arg := range ev.Inputs {
		v, ok := values[arg.Name]
		if !ok {
			return nil, nil, fmt.Errorf("%s: missing argument %s", name, arg.Name)
		}
		if !arg.Indexed {
			data = append(data, v)
			continue
		}
		rule, err := abi.MakeTopics([]interface{}{v})
		if err != nil {
			return nil, nil, fmt.Errorf("%s: topic %s: %w", name, arg.Name, err)
		}
		topics = append(topics, rule[0][0])
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return topics, packed, nil
}

// fields is an unpacked log with typed accessors. Accessors record the first
// type mismatch in err instead of panicking on foreign data.
type fields map[string]interface{}

type reader struct {
	f   fields
	ev  string
	err error
}

func (r *reader) get(name string) interface{} {
	v, ok := r.f[name]
	if !ok && r.err == nil {
		r.err = fmt.Errorf("%s: missing field %s", r.ev, name)
	}
	return v
}

func (r *reader) mismatch(name string, v interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("%s: field %s has unexpected type %T", r.ev, name, v)
	}
}

func (r *reader) bigInt(name string) *big.Int {
	v := r.get(name)
	if b, ok := v.(*big.Int); ok {
		return b
	}
	r.mismatch(name, v)
	return new(big.Int)
}

// uint24 fields arrive as *big.Int.
func (r *reader) uint24(name string) uint32 {
	b := r.bigInt(name)
	if !b.IsUint64() || b.Uint64() >= 1<<24 {
		if r.err == nil {
			r.err = fmt.Errorf("%s: field %s out of uint24 range", r.ev, name)
		}
		return 0
	}
	return uint32(b.Uint64())
}

func (r *reader) uint16(name string) uint16 {
	v := r.get(name)
	if u, ok := v.(uint16); ok {
		return u
	}
	r.mismatch(name, v)
	return 0
}

func (r *reader) uint32(name string) uint32 {
	v := r.get(name)
	if u, ok := v.(uint32); ok {
		return u
	}
	r.mismatch(name, v)
	return 0
}

func (r *reader) uint64(name string) uint64 {
	v := r.get(name)
	if u, ok := v.(uint64); ok {
		return u
	}
	r.mismatch(name, v)
	return 0
}

func (r *reader) int8(name string) int8 {
	v := r.get(name)
	if i, ok := v.(int8); ok {
		return i
	}
	r.mismatch(name, v)
	return 0
}

func (r *reader) address(name string) common.Address {
	v := r.get(name)
	if a, ok := v.(common.Address); ok {
		return a
	}
	r.mismatch(name, v)
	return common.Address{}
}

func (r *reader) addresses(name string) []common.Address {
	v := r.get(name)
	if a, ok := v.([]common.Address); ok {
		return a
	}
	r.mismatch(name, v)
	return nil
}

func (r *reader) bytes(name string) []byte {
	v := r.get(name)
	if b, ok := v.([]byte); ok {
		return b
	}
	r.mismatch(name, v)
	return nil
}

func (r *reader) bytes32(name string) common.Hash {
	v := r.get(name)
	if b, ok := v.([32]byte); ok {
		return b
	}
	r.mismatch(name, v)
	return common.Hash{}
}

func (r *reader) bytes8(name string) [8]byte {
	v := r.get(name)
	if b, ok := v.([8]byte); ok {
		return b
	}
	r.mismatch(name, v)
	return [8]byte{}
}
