package processors

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
)

// FrameLogger is a pass-through processor that logs the frames crossing a
// point of the pipeline at debug level
type FrameLogger struct {
	*BaseProcessor
	logger       *logger.Logger
	ignored      map[reflect.Type]bool
	logDirection bool
	logDetails   bool
}

// FrameLoggerConfig configures the frame logger
type FrameLoggerConfig struct {
	// Prefix names the tap point (e.g. "AfterSTT")
	Prefix string

	// IgnoredFrameTypes are frame types to skip. Audio frames are skipped
	// unless LogAudio is set.
	IgnoredFrameTypes []frames.Frame
	LogAudio          bool

	LogDirection    bool
	LogFrameDetails bool

	// Logger instance to use (if nil, uses default logger)
	Logger *logger.Logger
}

// NewFrameLogger creates a new frame logger processor
func NewFrameLogger(config FrameLoggerConfig) *FrameLogger {
	if config.Prefix == "" {
		config.Prefix = "Frame"
	}

	log := config.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	fl := &FrameLogger{
		logger:       log.WithPrefix(config.Prefix),
		ignored:      make(map[reflect.Type]bool),
		logDirection: config.LogDirection,
		logDetails:   config.LogFrameDetails,
	}

	ignored := config.IgnoredFrameTypes
	if !config.LogAudio {
		ignored = append(ignored, &frames.InputAudioRawFrame{}, &frames.TTSAudioRawFrame{})
	}
	for _, frameType := range ignored {
		fl.ignored[reflect.TypeOf(frameType)] = true
	}

	fl.BaseProcessor = NewBaseProcessor("FrameLogger:"+config.Prefix, fl)
	return fl
}

func (fl *FrameLogger) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if frame == nil || reflect.ValueOf(frame).IsNil() {
		fl.logger.Warn("Received nil frame, skipping")
		return nil
	}

	if !fl.ignored[reflect.TypeOf(frame)] && fl.logger.IsLevelEnabled(logger.DEBUG) {
		fl.logger.Debug("%s", fl.describe(frame, direction))
	}

	return fl.PushFrame(frame, direction)
}

func (fl *FrameLogger) describe(frame frames.Frame, direction frames.FrameDirection) string {
	var b strings.Builder
	if fl.logDirection {
		if direction == frames.Downstream {
			b.WriteString("→ ")
		} else {
			b.WriteString("← ")
		}
	}
	fmt.Fprintf(&b, "%s (%s)", frame.Name(), frames.CategoryOf(frame))

	if fl.logDetails {
		if details := frameDetails(frame); details != "" {
			b.WriteString(" | ")
			b.WriteString(details)
		}
	}
	return b.String()
}

// frameDetails renders the exported scalar fields of a frame. Byte payloads
// are reduced to their length.
func frameDetails(frame frames.Frame) string {
	v := reflect.ValueOf(frame)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return ""
	}

	t := v.Type()
	var details []string
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		if sf.Anonymous || !field.CanInterface() {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			str := field.String()
			if len(str) > 50 {
				str = str[:50] + "..."
			}
			details = append(details, fmt.Sprintf("%s: %q", sf.Name, str))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			details = append(details, fmt.Sprintf("%s: %d", sf.Name, field.Int()))
		case reflect.Bool:
			details = append(details, fmt.Sprintf("%s: %t", sf.Name, field.Bool()))
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.Uint8 {
				details = append(details, fmt.Sprintf("%s: %d bytes", sf.Name, field.Len()))
			} else {
				details = append(details, fmt.Sprintf("%s: [%d items]", sf.Name, field.Len()))
			}
		case reflect.Interface:
			if !field.IsNil() {
				details = append(details, fmt.Sprintf("%s: %v", sf.Name, field.Interface()))
			}
		}
	}

	return strings.Join(details, ", ")
}
