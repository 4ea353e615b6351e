package transports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/square-key-labs/strawgo-transfer/src/audio"
	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
	"github.com/square-key-labs/strawgo-transfer/src/serializers"
)

// ErrTransportClosed is returned when a leg attaches after the call ended
var ErrTransportClosed = errors.New("call transport closed")

// WSConn is the part of *websocket.Conn the transport uses
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// CallTransportConfig configures a CallTransport
type CallTransportConfig struct {
	SessionID string

	// HoldMusic is streamed to the caller while the mixer is on. Nil
	// streams silence.
	HoldMusic *audio.HoldMusic

	// Ringback replaces hold music while the specialist's phone rings and
	// ringback is requested. Nil plays the standard ringback tone.
	Ringback *audio.HoldMusic

	// ChunkInterval is the playback time of one 160 byte chunk (20ms)
	ChunkInterval time.Duration

	// QueueSize bounds the outbound chunks buffered per leg
	QueueSize int

	// OnStreamStart is called when a leg's media stream starts
	OnStreamStart func(leg frames.Leg, callSid string)
}

// outbound is one queued item for a leg: an audio chunk or a mark
type outbound struct {
	audio []byte
	mark  string
}

// callLeg is one side of the call. Its queue exists for the lifetime of
// the transport, so audio for a leg that has not connected yet is held
// until the stream starts.
type callLeg struct {
	leg   frames.Leg
	queue chan outbound

	mu     sync.Mutex // guards conn, ser, cancel and writes
	conn   WSConn
	ser    *serializers.TwilioFrameSerializer
	cancel context.CancelFunc
}

type utterance struct {
	legs    map[frames.Leg]bool
	pending int
}

// CallTransport carries one call session: the caller's media stream and,
// during a transfer, the specialist's. Input pushes what the legs send
// into the pipeline; Output plays speech and hold music and bridges the
// legs once the route is both.
type CallTransport struct {
	sessionID string
	music     *audio.HoldMusic
	ringback  *audio.HoldMusic
	interval  time.Duration
	onStart   func(leg frames.Leg, callSid string)
	log       *logger.Logger

	inputProc  *CallInputProcessor
	outputProc *CallOutputProcessor

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	legs       map[frames.Leg]*callLeg
	route      frames.AudioDestination
	mixer      bool
	holdAudio  frames.HoldAudio
	utterances map[string]*utterance
	marks      map[string]string // mark name -> utterance id
	closed     bool
}

// NewCallTransport creates the transport for one session
func NewCallTransport(config CallTransportConfig) *CallTransport {
	if config.ChunkInterval <= 0 {
		config.ChunkInterval = 20 * time.Millisecond
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 8192
	}
	music := config.HoldMusic
	if music == nil {
		music = audio.NewHoldMusic(nil)
	}
	ringback := config.Ringback
	if ringback == nil {
		ringback = audio.NewRingback()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &CallTransport{
		sessionID:  config.SessionID,
		music:      music,
		ringback:   ringback,
		interval:   config.ChunkInterval,
		onStart:    config.OnStreamStart,
		log:        logger.WithPrefix("CallTransport").With("session", config.SessionID),
		ctx:        ctx,
		cancel:     cancel,
		route:      frames.DestinationCaller,
		utterances: make(map[string]*utterance),
		marks:      make(map[string]string),
		legs: map[frames.Leg]*callLeg{
			frames.LegCaller:     {leg: frames.LegCaller, queue: make(chan outbound, config.QueueSize)},
			frames.LegSpecialist: {leg: frames.LegSpecialist, queue: make(chan outbound, config.QueueSize)},
		},
	}
	t.inputProc = newCallInputProcessor(t)
	t.outputProc = newCallOutputProcessor(t)
	return t
}

// Input returns the processor that feeds leg media into the pipeline
func (t *CallTransport) Input() processors.FrameProcessor {
	return t.inputProc
}

// Output returns the processor that plays pipeline audio on the legs
func (t *CallTransport) Output() processors.FrameProcessor {
	return t.outputProc
}

// SessionID returns the session this transport belongs to
func (t *CallTransport) SessionID() string {
	return t.sessionID
}

// Connected reports whether a leg currently has a media stream
func (t *CallTransport) Connected(leg frames.Leg) bool {
	l := t.legs[leg]
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Route returns where speech is currently played
func (t *CallTransport) Route() frames.AudioDestination {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.route
}

// MixerOn reports whether hold audio is playing to the caller
func (t *CallTransport) MixerOn() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mixer
}

// HoldAudio returns what the mixer plays, or "" when it is off
func (t *CallTransport) HoldAudio() frames.HoldAudio {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.mixer {
		return ""
	}
	return t.holdAudio
}

func (t *CallTransport) holdClip() *audio.HoldMusic {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.holdAudio == frames.HoldAudioRingback {
		return t.ringback
	}
	return t.music
}

// ReadStart reads messages until the stream's start message and returns
// the serializer primed for that stream. Messages before start (the
// connected event) carry nothing and are skipped.
func ReadStart(conn WSConn) (*serializers.TwilioFrameSerializer, *serializers.StreamStartFrame, error) {
	ser := serializers.NewTwilioFrameSerializer()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil, nil, fmt.Errorf("read before stream start: %w", err)
		}
		frame, err := ser.Deserialize(message)
		if err != nil {
			return nil, nil, err
		}
		if start, ok := frame.(*serializers.StreamStartFrame); ok {
			return ser, start, nil
		}
	}
}

// Serve runs a started media stream as the leg named in its start message.
// It blocks until the stream stops, the connection drops or ctx ends.
func (t *CallTransport) Serve(ctx context.Context, conn WSConn, ser *serializers.TwilioFrameSerializer, start *serializers.StreamStartFrame) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		conn.Close()
		return ErrTransportClosed
	}

	l := t.legs[start.Leg]
	legCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-legCtx.Done():
		case <-t.ctx.Done():
		}
		conn.Close()
	}()

	l.mu.Lock()
	if l.conn != nil {
		t.log.Warn("Replacing %s stream %s", l.leg, l.ser.StreamSid())
		l.cancel()
	}
	l.conn = conn
	l.ser = ser
	l.cancel = cancel
	l.mu.Unlock()

	t.log.Info("%s stream started: %s (call %s)", start.Leg, start.StreamSid, start.CallSid)
	go t.runSender(legCtx, l, conn, ser)

	if t.onStart != nil {
		t.onStart(start.Leg, start.CallSid)
	}
	if start.Leg == frames.LegCaller {
		t.pushInput(frames.NewCustomerJoinedFrame(start.CallSid, start.Params["from"]))
	}

	reason := t.receive(legCtx, l, conn, ser)
	cancel()

	l.mu.Lock()
	current := l.conn == conn
	if current {
		l.conn = nil
		l.ser = nil
		l.cancel = nil
	}
	l.mu.Unlock()

	t.log.Info("%s stream closed: %s", start.Leg, reason)

	t.mu.RLock()
	closed = t.closed
	t.mu.RUnlock()
	if current && !closed && start.Leg == frames.LegCaller {
		t.pushInput(frames.NewCustomerLeftFrame(reason))
	}
	return nil
}

func (t *CallTransport) receive(ctx context.Context, l *callLeg, conn WSConn, ser *serializers.TwilioFrameSerializer) string {
	for {
		select {
		case <-ctx.Done():
			return "stream closed"
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				t.log.Warn("Read error on %s leg: %v", l.leg, err)
			}
			return "connection closed"
		}

		frame, err := ser.Deserialize(message)
		if err != nil {
			t.log.Warn("Error parsing %s message: %v", l.leg, err)
			continue
		}

		switch f := frame.(type) {
		case *frames.InputAudioRawFrame:
			t.handleMedia(l.leg, f)
		case *serializers.MarkFrame:
			t.markPlayed(f.MarkName, l.leg)
		case *serializers.StreamStopFrame:
			return "stream stopped"
		}
	}
}

func (t *CallTransport) handleMedia(leg frames.Leg, f *frames.InputAudioRawFrame) {
	route := t.Route()

	if route == frames.DestinationBoth {
		other := frames.LegSpecialist
		if leg == frames.LegSpecialist {
			other = frames.LegCaller
		}
		t.writeNow(t.legs[other], f.Data)
	}

	// Specialist audio only matters to the pipeline while the bot is
	// talking to the specialist alone
	if leg == frames.LegCaller || route == frames.DestinationSpecialist {
		t.pushInput(f)
	}
}

func (t *CallTransport) pushInput(frame frames.Frame) {
	if err := t.inputProc.QueueFrame(frame, frames.Downstream); err != nil {
		t.log.Debug("Dropped %s: %v", frame.Name(), err)
	}
}

// writeNow sends audio on a leg immediately, bypassing the paced queue.
// Used for bridged media, which arrives already paced by the other leg.
func (t *CallTransport) writeNow(l *callLeg, mulaw []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return
	}
	data, err := l.ser.SerializeAudio(mulaw)
	if err != nil {
		return
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.log.Debug("Bridge write to %s failed: %v", l.leg, err)
	}
}

func (t *CallTransport) write(l *callLeg, conn WSConn, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != conn {
		return ErrTransportClosed
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// runSender drains a leg's queue in real time: audio chunks are spaced by
// the chunk interval, marks go out as soon as the audio before them did.
// On the caller leg an idle queue is filled with hold audio while the
// mixer is on.
func (t *CallTransport) runSender(ctx context.Context, l *callLeg, conn WSConn, ser *serializers.TwilioFrameSerializer) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var nextSendTime time.Time

	pace := func() {
		now := time.Now()
		if nextSendTime.IsZero() || !nextSendTime.After(now) {
			nextSendTime = now.Add(t.interval)
			return
		}
		time.Sleep(nextSendTime.Sub(now))
		nextSendTime = nextSendTime.Add(t.interval)
	}

	send := func(data []byte, err error) bool {
		if err != nil {
			t.log.Warn("Serialize for %s failed: %v", l.leg, err)
			return true
		}
		if err := t.write(l, conn, data); err != nil {
			t.log.Debug("Sender for %s stopped: %v", l.leg, err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return

		case item := <-l.queue:
			if item.mark != "" {
				if !send(ser.SerializeMark(item.mark)) {
					return
				}
				continue
			}
			pace()
			if !send(ser.SerializeAudio(item.audio)) {
				return
			}

		case <-ticker.C:
			if l.leg != frames.LegCaller || !t.MixerOn() || len(l.queue) > 0 {
				continue
			}
			if time.Now().Before(nextSendTime) {
				continue
			}
			pace()
			if !send(ser.SerializeAudio(t.holdClip().Next())) {
				return
			}
		}
	}
}

func (t *CallTransport) enqueue(l *callLeg, item outbound) bool {
	select {
	case l.queue <- item:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (t *CallTransport) playAudio(f *frames.TTSAudioRawFrame) error {
	data := f.Data
	switch f.Codec {
	case "", "mulaw", "ulaw":
	case "alaw":
		data = audio.AlawToMulaw(data, f.SampleRate)
	case "linear16", "pcm":
		pcm, err := audio.BytesToPCM(data)
		if err != nil {
			return err
		}
		data = audio.PCMToMulaw(audio.Resample(pcm, f.SampleRate, audio.TelephonySampleRate))
	default:
		return fmt.Errorf("unsupported TTS codec %q", f.Codec)
	}

	t.mu.Lock()
	dest := f.Destination
	if dest == "" {
		dest = t.route
	}
	u := t.utterances[f.UtteranceID]
	if u == nil {
		u = &utterance{legs: make(map[frames.Leg]bool)}
		t.utterances[f.UtteranceID] = u
	}
	legs := dest.Legs()
	for _, leg := range legs {
		u.legs[leg] = true
	}
	t.mu.Unlock()

	for _, leg := range legs {
		l := t.legs[leg]
		for off := 0; off < len(data); off += audio.ChunkSize {
			end := min(off+audio.ChunkSize, len(data))
			if !t.enqueue(l, outbound{audio: data[off:end]}) {
				return ErrTransportClosed
			}
		}
	}
	return nil
}

// finishUtterance queues a mark behind the utterance's audio on every leg
// that played it. The utterance is over once all marks are echoed back.
func (t *CallTransport) finishUtterance(id string) {
	t.mu.Lock()
	u := t.utterances[id]
	if u == nil || len(u.legs) == 0 {
		delete(t.utterances, id)
		route := t.route
		t.mu.Unlock()
		// Nothing was played; the utterance is already over
		t.pushInput(frames.NewBotStoppedSpeakingFrame(id, route.Legs()[0]))
		return
	}

	marks := make(map[frames.Leg]string, len(u.legs))
	for leg := range u.legs {
		name := uuid.NewString()
		marks[leg] = name
		t.marks[name] = id
		u.pending++
	}
	t.mu.Unlock()

	for leg, name := range marks {
		t.enqueue(t.legs[leg], outbound{mark: name})
	}
}

// markPlayed resolves an echoed mark. When the last mark of an utterance
// comes back, the bot stopped speaking.
func (t *CallTransport) markPlayed(name string, leg frames.Leg) {
	t.mu.Lock()
	id, ok := t.marks[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.marks, name)
	u := t.utterances[id]
	done := false
	if u != nil {
		u.pending--
		if u.pending <= 0 {
			delete(t.utterances, id)
			done = true
		}
	}
	t.mu.Unlock()

	if done {
		t.log.Debug("Utterance %s finished on %s", id, leg)
		t.pushInput(frames.NewBotStoppedSpeakingFrame(id, leg))
	}
}

// drain empties a leg's queue. Marks found in it are resolved as played
// when notify is set, otherwise their utterances are forgotten.
func (t *CallTransport) drain(leg frames.Leg, notify bool) {
	l := t.legs[leg]
	var marks []string
	for {
		select {
		case item := <-l.queue:
			if item.mark != "" {
				marks = append(marks, item.mark)
			}
			continue
		default:
		}
		break
	}

	for _, name := range marks {
		if notify {
			t.markPlayed(name, leg)
			continue
		}
		t.mu.Lock()
		if id, ok := t.marks[name]; ok {
			delete(t.marks, name)
			delete(t.utterances, id)
		}
		t.mu.Unlock()
	}
}

// clear drops whatever Twilio buffered for the leg but has not played
func (t *CallTransport) clear(leg frames.Leg) {
	l := t.legs[leg]
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return
	}
	data, err := l.ser.Serialize(serializers.NewClearFrame())
	if err != nil {
		return
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.log.Debug("Clear on %s failed: %v", leg, err)
	}
}

func (t *CallTransport) setMixer(on bool, source frames.HoldAudio) {
	if source == "" {
		source = frames.HoldAudioMusic
	}
	t.mu.Lock()
	changed := t.mixer != on || (on && t.holdAudio != source)
	t.mixer = on
	if on {
		t.holdAudio = source
	}
	t.mu.Unlock()
	if !changed {
		return
	}

	t.log.Info("Hold audio enabled=%v (%s)", on, source)
	if on {
		t.holdClip().Rewind()
	} else {
		t.clear(frames.LegCaller)
	}
}

func (t *CallTransport) setRoute(dest frames.AudioDestination) {
	t.mu.Lock()
	prev := t.route
	t.route = dest
	t.mu.Unlock()
	if prev == dest {
		return
	}

	t.log.Info("Audio route %s -> %s", prev, dest)
	if !dest.Includes(frames.LegSpecialist) {
		// Anything still queued for the specialist is stale now
		t.drain(frames.LegSpecialist, false)
	}
}

func (t *CallTransport) interrupt() {
	t.drain(frames.LegCaller, true)
	t.clear(frames.LegCaller)
}

// Close ends every leg. It is safe to call more than once.
func (t *CallTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.log.Info("Closing call transport")
	t.cancel()
}

// CallInputProcessor pushes leg media and stream events into the pipeline
type CallInputProcessor struct {
	*processors.BaseProcessor
	transport *CallTransport
}

func newCallInputProcessor(transport *CallTransport) *CallInputProcessor {
	p := &CallInputProcessor{transport: transport}
	p.BaseProcessor = processors.NewOrderedProcessor("CallInput", p)
	return p
}

func (p *CallInputProcessor) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	return p.PushFrame(frame, direction)
}

// CallOutputProcessor plays speech on the legs selected by the route
type CallOutputProcessor struct {
	*processors.BaseProcessor
	transport *CallTransport
}

func newCallOutputProcessor(transport *CallTransport) *CallOutputProcessor {
	p := &CallOutputProcessor{transport: transport}
	p.BaseProcessor = processors.NewOrderedProcessor("CallOutput", p)
	return p
}

func (p *CallOutputProcessor) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	t := p.transport
	if direction == frames.Upstream {
		return p.PushFrame(frame, direction)
	}

	switch f := frame.(type) {
	case *frames.TTSAudioRawFrame:
		if err := t.playAudio(f); err != nil {
			p.Logger().Error("Error playing audio: %v", err)
			return p.PushFrame(frames.NewErrorFrame(err), frames.Upstream)
		}
		return nil

	case *frames.TTSStoppedFrame:
		t.finishUtterance(f.UtteranceID)

	case *frames.MixerEnableFrame:
		t.setMixer(f.Enable, f.Source)

	case *frames.BotAudioRouteFrame:
		t.setRoute(f.Destination)

	case *frames.InterruptionFrame:
		t.interrupt()

	case *frames.EndFrame, *frames.CancelFrame:
		t.Close()
	}

	return p.PushFrame(frame, direction)
}
