package tools

import (
	"context"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"deapi-mcp/internal/deapi"
)

const defaultTranscriptionModel = "WhisperLargeV3"

func (r *Registry) registerAudioTools(srv *server.MCPServer) {
	variants := []struct {
		name    string
		argName string
		kind    string
		desc    string
		argDesc string
	}{
		{
			name:    "audio_transcription",
			argName: "audio",
			kind:    "audio",
			desc:    "Transcribe an audio file to text. Accepts a base64 data URI, a URL or raw base64 audio data.",
			argDesc: "Audio input: data URI, URL or base64 data",
		},
		{
			name:    "audio_url_transcription",
			argName: "audio_url",
			kind:    "audio",
			desc:    "Transcribe an audio file fetched from a URL.",
			argDesc: "URL of the audio file to transcribe",
		},
		{
			name:    "video_file_transcription",
			argName: "video",
			kind:    "video",
			desc:    "Transcribe the audio track of a video file. Accepts a base64 data URI, a URL or raw base64 video data.",
			argDesc: "Video input: data URI, URL or base64 data",
		},
		{
			name:    "video_url_transcription",
			argName: "video_url",
			kind:    "video",
			desc:    "Transcribe the audio track of a video fetched from a URL.",
			argDesc: "URL of the video file to transcribe",
		},
	}

	for _, v := range variants {
		commonArgs := []mcp.ToolOption{
			mcp.WithString(v.argName,
				mcp.Required(),
				mcp.Description(v.argDesc),
			),
			mcp.WithBoolean("include_ts",
				mcp.Description("Include word-level timestamps in the transcript"),
			),
			mcp.WithString("model",
				mcp.Description("Transcription model (default "+defaultTranscriptionModel+")"),
			),
		}

		tool := mcp.NewTool(v.name,
			append([]mcp.ToolOption{mcp.WithDescription(v.desc)}, commonArgs...)...)
		r.add(srv, tool, r.transcriptionHandler(v.argName, v.kind, false))

		priceTool := mcp.NewTool(v.name+"_price",
			append([]mcp.ToolOption{mcp.WithDescription("Calculate the cost of the " + v.name + " operation without running it.")}, commonArgs...)...)
		r.add(srv, priceTool, r.transcriptionHandler(v.argName, v.kind, true))
	}

	ttsArgs := []mcp.ToolOption{
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to convert to speech"),
		),
		mcp.WithString("model",
			mcp.Description("Text-to-speech model"),
		),
		mcp.WithString("voice",
			mcp.Description("Voice to synthesize with"),
		),
		mcp.WithString("lang",
			mcp.Description("Language code (default en-us)"),
		),
		mcp.WithNumber("speed",
			mcp.Description("Speech speed between 0.1 and 3.0 (default 1.0)"),
		),
		mcp.WithString("audio_format",
			mcp.Description("Output format (default flac)"),
		),
		mcp.WithNumber("sample_rate",
			mcp.Description("Output sample rate in Hz (default 24000)"),
		),
	}

	tts := mcp.NewTool("text_to_audio",
		append([]mcp.ToolOption{mcp.WithDescription("Generate speech audio from text.")}, ttsArgs...)...)
	r.add(srv, tts, r.textToAudioHandler(false))

	ttsPrice := mcp.NewTool("text_to_audio_price",
		append([]mcp.ToolOption{mcp.WithDescription("Calculate the cost of a text_to_audio job without running it.")}, ttsArgs...)...)
	r.add(srv, ttsPrice, r.textToAudioHandler(true))
}

// transcriptionHandler serves every transcription variant: the upstream
// endpoint is the same, only the input shape differs.
func (r *Registry) transcriptionHandler(argName, kind string, price bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := request.RequireString(argName)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		name, data, err := resolveMedia(ctx, input, kind)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		fields := map[string]string{
			"model":      request.GetString("model", defaultTranscriptionModel),
			"include_ts": strconv.FormatBool(request.GetBool("include_ts", false)),
		}
		files := []deapi.FormFile{{Field: "audio", Name: name, Data: data}}

		if price {
			return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
				return client.CalculatePriceForm(ctx, "audiofile2txt", fields, files)
			})
		}
		return r.runJob(ctx, request, "audio", func(ctx context.Context, client *deapi.Client) (*deapi.Job, error) {
			return client.SubmitJobForm(ctx, "audiofile2txt", fields, files)
		})
	}
}

func (r *Registry) textToAudioHandler(price bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := request.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		speed := request.GetFloat("speed", 1.0)
		if err := validateRange("speed", speed, 0.1, 3.0); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]interface{}{
			"text":         text,
			"lang":         request.GetString("lang", "en-us"),
			"speed":        speed,
			"audio_format": request.GetString("audio_format", "flac"),
			"sample_rate":  request.GetInt("sample_rate", 24000),
		}
		if model := request.GetString("model", ""); model != "" {
			payload["model"] = model
		}
		if voice := request.GetString("voice", ""); voice != "" {
			payload["voice"] = voice
		}

		if price {
			return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
				return client.CalculatePrice(ctx, "txt2audio", payload)
			})
		}
		return r.runJob(ctx, request, "audio", func(ctx context.Context, client *deapi.Client) (*deapi.Job, error) {
			return client.SubmitJob(ctx, "txt2audio", payload)
		})
	}
}
