package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gordonklaus/portaudio"

	voicert "github.com/codewandler/voicert-go"
	"github.com/codewandler/voicert-go/events"
	"github.com/codewandler/voicert-go/tool"
	"github.com/codewandler/voicert-go/transport"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var (
		debug       = false
		useWS       = false
		sampleRate  = 24_000
		instruction = "You are a helpcenter agent and help the user."
	)

	flag.StringVar(&instruction, "instruction", instruction, "instruction to send to the agent.")
	flag.IntVar(&sampleRate, "sample-rate", sampleRate, "device sample rate")
	flag.BoolVar(&useWS, "ws", false, "use the websocket transport instead of webrtc")
	flag.BoolVar(&debug, "debug", false, "enable debug logs")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelError)
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	must(portaudio.Initialize())
	defer portaudio.Terminate()

	device, err := NewDeviceIO(sampleRate)
	must(err)

	registry := tool.NewRegistry()
	registry.Register(
		tool.New("get_time", "Get current time", tool.Parameters{
			Type:       "object",
			Properties: tool.Properties{},
			Required:   []string{},
		}),
		func(args map[string]any) (any, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	)
	registry.Register(
		tool.New("conversation_end", "End the conversation", tool.Parameters{
			Type:       "object",
			Properties: tool.Properties{},
			Required:   []string{},
		}),
		func(args map[string]any) (any, error) {
			cancel()
			return "OK", nil
		},
	)

	opts := []voicert.ClientOption{
		voicert.WithDefaultLogger(),
		voicert.WithInstruction(instruction),
		voicert.WithSampleRate(sampleRate),
		voicert.WithToolRegistry(registry),
	}

	if useWS {
		ws, err := transport.DialWebSocket(
			ctx,
			"wss://api.openai.com/v1/realtime",
			os.Getenv(voicert.ApiKeyEnvVarNameLong),
			"gpt-4o-realtime-preview-2025-06-03",
			slog.Default(),
		)
		must(err)
		opts = append(opts, voicert.WithTransport(ws))
	}

	client := voicert.New(opts...)
	defer client.Disconnect()

	client.OnError(func(e *events.ErrorEvent) {
		slog.Error("server error", slog.Any("error", e))
	})
	client.OnEvent(func(e events.ServerEvent) {
		switch x := e.(type) {
		case events.ResponseAudioTranscriptDoneEvent:
			fmt.Println("agent>", x.Transcript)
		case events.InputAudioTranscriptionDoneEvent:
			fmt.Println("user>", x.Transcript)
		case events.SpeechStartedEvent:
			device.Clear()
		}
	})

	must(client.Open(ctx))
	must(client.WaitUntilConnected(ctx))
	must(client.CreateResponse())

	speaker, mic := client.Audio()

	// agent audio -> speaker
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := speaker.Read(buf)
			if err != nil {
				return
			}
			if _, err := device.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	// mic -> agent
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := device.Read(buf)
			if err != nil {
				return
			}
			if _, err := mic.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	<-ctx.Done()
}
