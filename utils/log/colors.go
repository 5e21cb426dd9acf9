package log

import (
	"bytes"
	"regexp"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var ansiSequence = regexp.MustCompile("\x1b\\[[0-9;]*m")

// color is a console encoder that lets ANSI sequences in messages through
// instead of escaping them, or drops them entirely in plain mode.
type color struct {
	*zapcore.EncoderConfig
	zapcore.Encoder
	plain bool
}

func NewColor(cfg zapcore.EncoderConfig, plain bool) zapcore.Encoder {
	return color{
		EncoderConfig: &cfg,
		Encoder:       zapcore.NewConsoleEncoder(cfg),
		plain:         plain,
	}
}

func (c color) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buff, err := c.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return nil, err
	}

	out := bytes.ReplaceAll(buff.Bytes(), []byte("\\u001b"), []byte("\u001b"))
	if c.plain {
		out = ansiSequence.ReplaceAll(out, nil)
	}
	buff.Reset()
	_, _ = buff.Write(out)
	return buff, nil
}

func (c color) Clone() zapcore.Encoder {
	return color{
		EncoderConfig: c.EncoderConfig,
		Encoder:       c.Encoder.Clone(),
		plain:         c.plain,
	}
}
