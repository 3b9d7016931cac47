// Command consensusd runs one validator's consensus core: it loads the
// node's configuration and validator key, opens its LevelDB store, wires
// the validator set, fork graph, evidence/penalty pipeline, BFT engine,
// cross-domain coordinator and framed transport together, then runs the
// engine until interrupted.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/synclabs/consensuscore/config"
	"github.com/synclabs/consensuscore/consensus/engine"
	"github.com/synclabs/consensuscore/consensus/evidence"
	"github.com/synclabs/consensuscore/consensus/forkgraph"
	"github.com/synclabs/consensuscore/consensus/penalty"
	"github.com/synclabs/consensuscore/consensus/store"
	"github.com/synclabs/consensuscore/consensus/transport"
	"github.com/synclabs/consensuscore/consensus/validator"
	"github.com/synclabs/consensuscore/consensus/xdomain"
	"github.com/synclabs/consensuscore/core/events"
	"github.com/synclabs/consensuscore/core/types"
	"github.com/synclabs/consensuscore/crypto"
	"github.com/synclabs/consensuscore/observability/logging"
	"github.com/synclabs/consensuscore/storage"
)

const envEnvironment = "CONSENSUSD_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	log := logging.Setup("consensusd", strings.TrimSpace(os.Getenv(envEnvironment)))

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Error("load configuration", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	signer, err := cfg.ValidatorSigningKey()
	if err != nil {
		log.Error("load validator signing key", "err", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		log.Error("open database", "err", err, "data_dir", cfg.DataDir)
		os.Exit(1)
	}
	defer db.Close()
	_ = store.New(db)

	validatorParams, err := cfg.ValidatorParams()
	if err != nil {
		log.Error("parse validator params", "err", err)
		os.Exit(1)
	}
	validators := validator.New(validatorParams)
	if err := validators.Add(cfg.ValidatorID, signer.PubKey().Bytes(), validatorParams.MinSelfBond, 0, 0); err != nil {
		log.Error("register self validator", "err", err)
		os.Exit(1)
	}

	bootstrap, err := parseBootstrapPeers(cfg.BootstrapPeers)
	if err != nil {
		log.Error("parse bootstrap peers", "err", err)
		os.Exit(1)
	}
	addresses := make(map[string]string, len(bootstrap))
	for id, peer := range bootstrap {
		addresses[id] = peer.addr
		if err := validators.Add(id, peer.publicKey, validatorParams.MinSelfBond, 0, 0); err != nil {
			log.Error("register bootstrap peer", "err", err, "validator_id", id)
			os.Exit(1)
		}
	}
	book := transport.NewStaticAddressBook(addresses)

	genesis := types.Block{Header: types.BlockHeader{Height: 0, Slot: 0, Timestamp: 0}}
	graph := forkgraph.New(genesis)

	detector := evidence.NewDetector(5)
	evStore := evidence.NewStore()
	_ = penalty.NewEngine(penalty.BuildCatalog(cfg.PenaltyConfig()), validators, evStore, events.NoopEmitter{})

	// The transport Node and the engine reference each other (the node
	// dispatches to the engine, the engine broadcasts through the node),
	// so each is given a forwarding shim first and pointed at the real
	// instance once both exist.
	bcast := &lazyBroadcaster{}
	dispatch := &lazyDispatcher{}

	eng := engine.New(
		cfg.EngineConfig(engine.TendermintProtocol()),
		1,
		validators,
		graph,
		detector,
		evStore,
		payloadlessBuilder{},
		engineSigner{id: cfg.ValidatorID, key: signer},
		crypto.VerifyEd25519,
		bcast,
		log,
	)
	dispatch.target = eng

	node := transport.NewNode(
		cfg.TransportConfig(),
		cfg.ValidatorID,
		transportSigner{id: cfg.ValidatorID, key: signer},
		crypto.VerifyEd25519,
		validatorSetResolver{set: validators},
		dispatch,
		book,
		log,
	)
	bcast.target = node

	_ = xdomain.NewCoordinator(cfg.XDomainConfig(), cfg.ValidatorID, xdomain.NewStaticRegistry(nil), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Listen(ctx); err != nil {
		log.Error("start transport listener", "err", err)
		os.Exit(1)
	}
	for id := range addresses {
		if id == cfg.ValidatorID {
			continue
		}
		node.Connect(ctx, id)
	}

	go eng.Run(ctx)

	log.Info("consensus node initialised and running", "validator_id", cfg.ValidatorID, "listen_address", cfg.ListenAddress)
	select {
	case <-ctx.Done():
	case err := <-eng.Halted():
		log.Error("engine halted", "err", err)
	}
	log.Info("consensus node shutting down")
}

// lazyBroadcaster forwards to target once it is known, letting the engine
// be constructed before the transport Node that will actually carry its
// broadcasts.
type lazyBroadcaster struct {
	target engine.Broadcaster
}

func (b *lazyBroadcaster) Broadcast(kind string, payload []byte) error {
	if b.target == nil {
		return nil
	}
	return b.target.Broadcast(kind, payload)
}

// lazyDispatcher is the dispatch-side counterpart of lazyBroadcaster: the
// transport Node needs a Dispatcher at construction, before the engine it
// will actually deliver to exists.
type lazyDispatcher struct {
	target transport.Dispatcher
}

func (d *lazyDispatcher) HandleProposal(sp types.SignedProposal) error {
	if d.target == nil {
		return nil
	}
	return d.target.HandleProposal(sp)
}

func (d *lazyDispatcher) HandleVote(sv types.SignedVote) error {
	if d.target == nil {
		return nil
	}
	return d.target.HandleVote(sv)
}

// payloadlessBuilder proposes empty-payload blocks. core/types.Block's
// payload is opaque to the consensus core by design, so a real deployment
// supplies its own BlockBuilder; this default keeps consensusd runnable
// standalone.
type payloadlessBuilder struct{}

func (payloadlessBuilder) BuildBlock(height, slot uint64, parentHash []byte) (types.Block, error) {
	return types.Block{Header: types.BlockHeader{
		Height:     height,
		Slot:       slot,
		ParentHash: parentHash,
	}}, nil
}

// engineSigner adapts crypto.Ed25519PrivateKey to consensus/engine.Signer.
type engineSigner struct {
	id  string
	key *crypto.Ed25519PrivateKey
}

func (s engineSigner) Sign(digest []byte) []byte { return s.key.Sign(digest) }
func (s engineSigner) ValidatorID() string       { return s.id }

// transportSigner adapts crypto.Ed25519PrivateKey to consensus/transport.Signer.
type transportSigner struct {
	id  string
	key *crypto.Ed25519PrivateKey
}

func (s transportSigner) Sign(digest []byte) []byte { return s.key.Sign(digest) }
func (s transportSigner) ValidatorID() string       { return s.id }

// validatorSetResolver adapts validator.Set to consensus/transport.PublicKeyResolver.
type validatorSetResolver struct {
	set *validator.Set
}

func (r validatorSetResolver) PublicKey(validatorID string) ([]byte, bool) {
	v, ok := r.set.Get(validatorID)
	if !ok {
		return nil, false
	}
	return v.PublicKey, true
}

type bootstrapPeer struct {
	addr      string
	publicKey []byte
}

// parseBootstrapPeers parses "validator_id@pubkey_hex@host:port" entries,
// the minimal static peer descriptor a standalone consensusd needs to seed
// both its transport address book and its validator set.
func parseBootstrapPeers(entries []string) (map[string]bootstrapPeer, error) {
	out := make(map[string]bootstrapPeer, len(entries))
	for _, raw := range entries {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		parts := strings.SplitN(trimmed, "@", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("config: bootstrap peer %q must be id@pubkey_hex@host:port", raw)
		}
		id, pubHex, addr := parts[0], parts[1], parts[2]
		pubKey, err := hex.DecodeString(pubHex)
		if err != nil {
			return nil, fmt.Errorf("config: bootstrap peer %q public key: %w", raw, err)
		}
		out[id] = bootstrapPeer{addr: addr, publicKey: pubKey}
	}
	return out, nil
}
