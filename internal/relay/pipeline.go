// Package relay supervises external pipelines that consume a published
// stream: pushing it to another RTMP endpoint, re-encoding it, or anything
// else an ffmpeg invocation can express. Each task is fed the live stream as
// FLV on stdin and restarted with exponential backoff when it dies.
package relay

import (
	"io"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/pksorensen/video-streaming-portal-sub001/config"
)

// Pipeline is one running external consumer. Start returns the pipe the FLV
// stream is written into; Wait blocks until the process exits.
type Pipeline interface {
	Start() (io.WriteCloser, error)
	Wait() error
	Kill() error
}

// PipelineFactory builds a fresh Pipeline for every (re)start of a task.
type PipelineFactory func(task config.RelayTask) Pipeline

// NewFFmpegFactory returns a factory producing ffmpeg processes that read FLV
// from stdin and write to the task's destination. Extra task args are placed
// between input and output, where ffmpeg expects encoding options.
func NewFFmpegFactory(ffmpegPath string) PipelineFactory {
	return func(task config.RelayTask) Pipeline {
		args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}
		if len(task.Args) > 0 {
			args = append(args, task.Args...)
		} else {
			// Without explicit options, forward without re-encoding.
			args = append(args, "-c", "copy")
		}
		args = append(args, "-f", "flv", task.Destination)
		return &ffmpegPipeline{cmd: exec.Command(ffmpegPath, args...)}
	}
}

type ffmpegPipeline struct {
	cmd *exec.Cmd
}

func (p *ffmpegPipeline) Start() (io.WriteCloser, error) {
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "relay: stdin pipe")
	}
	if err := p.cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "relay: start %s", p.cmd.Path)
	}
	return stdin, nil
}

func (p *ffmpegPipeline) Wait() error {
	return p.cmd.Wait()
}

func (p *ffmpegPipeline) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
