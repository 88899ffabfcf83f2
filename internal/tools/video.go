package tools

import (
	"context"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"deapi-mcp/internal/deapi"
)

func (r *Registry) registerVideoTools(srv *server.MCPServer) {
	commonVideoArgs := []mcp.ToolOption{
		mcp.WithString("model",
			mcp.Description("Video generation model"),
		),
		mcp.WithNumber("width",
			mcp.Description("Video width in pixels, 64-2048 (default 512)"),
		),
		mcp.WithNumber("height",
			mcp.Description("Video height in pixels, 64-2048 (default 512)"),
		),
		mcp.WithNumber("frames",
			mcp.Description("Number of frames to generate (default 120)"),
		),
		mcp.WithNumber("fps",
			mcp.Description("Frames per second (default 30)"),
		),
		mcp.WithNumber("steps",
			mcp.Description("Diffusion steps per frame, 1-100 (default 1)"),
		),
		mcp.WithNumber("guidance",
			mcp.Description("Prompt adherence, 0-20 (default 0)"),
		),
		mcp.WithNumber("seed",
			mcp.Description("Random seed, -1 for random"),
		),
	}

	txt2videoArgs := append([]mcp.ToolOption{
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Text description of the video to generate"),
		),
	}, commonVideoArgs...)

	r.add(srv, mcp.NewTool("text_to_video",
		append([]mcp.ToolOption{mcp.WithDescription("Generate a video from a text prompt.")}, txt2videoArgs...)...),
		r.textToVideoHandler(false))
	r.add(srv, mcp.NewTool("text_to_video_price",
		append([]mcp.ToolOption{mcp.WithDescription("Calculate the cost of a text_to_video job without running it.")}, txt2videoArgs...)...),
		r.textToVideoHandler(true))

	img2videoArgs := append([]mcp.ToolOption{
		mcp.WithString("first_frame_image",
			mcp.Required(),
			mcp.Description("First frame: data URI, URL or base64 image data"),
		),
		mcp.WithString("last_frame_image",
			mcp.Description("Optional last frame: data URI, URL or base64 image data"),
		),
		mcp.WithString("prompt",
			mcp.Description("Text guidance for the animation"),
		),
	}, commonVideoArgs...)

	r.add(srv, mcp.NewTool("image_to_video",
		append([]mcp.ToolOption{mcp.WithDescription("Animate an image into a video, optionally towards a last frame.")}, img2videoArgs...)...),
		r.imageToVideoHandler(false))
	r.add(srv, mcp.NewTool("image_to_video_price",
		append([]mcp.ToolOption{mcp.WithDescription("Calculate the cost of an image_to_video job without running it.")}, img2videoArgs...)...),
		r.imageToVideoHandler(true))

	editVariants := []struct {
		name      string
		endpoint  string
		desc      string
		modelDesc string
	}{
		{
			name:      "video_remove_background",
			endpoint:  "vid-rmbg",
			desc:      "Remove the background from a video. Accepts a data URI, a URL or raw base64 video data.",
			modelDesc: "Video background removal model",
		},
		{
			name:      "video_upscale",
			endpoint:  "vid-upscale",
			desc:      "Upscale a video to a higher resolution. Accepts a data URI, a URL or raw base64 video data.",
			modelDesc: "Video upscaling model",
		},
	}

	for _, v := range editVariants {
		r.add(srv, mcp.NewTool(v.name,
			mcp.WithDescription(v.desc),
			mcp.WithString("video",
				mcp.Required(),
				mcp.Description("Video input: data URI, URL or base64 data"),
			),
			mcp.WithString("model",
				mcp.Required(),
				mcp.Description(v.modelDesc),
			),
		), r.videoEditHandler(v.endpoint))

		// The price variant takes dimensions instead of the video itself, so
		// cost can be estimated before uploading anything.
		r.add(srv, mcp.NewTool(v.name+"_price",
			mcp.WithDescription("Calculate the cost of the "+v.name+" operation without running it."),
			mcp.WithString("model",
				mcp.Required(),
				mcp.Description(v.modelDesc),
			),
			mcp.WithNumber("width",
				mcp.Description("Video width in pixels (optional)"),
			),
			mcp.WithNumber("height",
				mcp.Description("Video height in pixels (optional)"),
			),
		), r.videoEditPriceHandler(v.endpoint))
	}
}

func (r *Registry) videoEditHandler(endpoint string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		video, err := request.RequireString("video")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		model, err := request.RequireString("model")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		name, data, err := resolveMedia(ctx, video, "video")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		fields := map[string]string{"model": model}
		files := []deapi.FormFile{{Field: "video", Name: name, Data: data}}

		return r.runJob(ctx, request, "video", func(ctx context.Context, client *deapi.Client) (*deapi.Job, error) {
			return client.SubmitJobForm(ctx, endpoint, fields, files)
		})
	}
}

func (r *Registry) videoEditPriceHandler(endpoint string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		model, err := request.RequireString("model")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		fields := map[string]string{"model": model}
		if width := request.GetInt("width", 0); width > 0 {
			fields["width"] = strconv.Itoa(width)
		}
		if height := request.GetInt("height", 0); height > 0 {
			fields["height"] = strconv.Itoa(height)
		}

		return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
			return client.CalculatePriceForm(ctx, endpoint, fields, nil)
		})
	}
}

func videoGenerationParams(request mcp.CallToolRequest) (map[string]interface{}, error) {
	width := request.GetFloat("width", 512)
	height := request.GetFloat("height", 512)
	steps := request.GetFloat("steps", 1)
	guidance := request.GetFloat("guidance", 0)

	for _, check := range []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"width", width, 64, 2048},
		{"height", height, 64, 2048},
		{"steps", steps, 1, 100},
		{"guidance", guidance, 0, 20},
	} {
		if err := validateRange(check.name, check.value, check.min, check.max); err != nil {
			return nil, err
		}
	}

	params := map[string]interface{}{
		"width":    int(width),
		"height":   int(height),
		"frames":   request.GetInt("frames", 120),
		"fps":      request.GetInt("fps", 30),
		"steps":    int(steps),
		"guidance": guidance,
		"seed":     request.GetInt("seed", -1),
	}
	if model := request.GetString("model", ""); model != "" {
		params["model"] = model
	}
	return params, nil
}

func (r *Registry) textToVideoHandler(price bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := request.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := videoGenerationParams(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload["prompt"] = prompt

		if price {
			return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
				return client.CalculatePrice(ctx, "txt2video", payload)
			})
		}
		return r.runJob(ctx, request, "video", func(ctx context.Context, client *deapi.Client) (*deapi.Job, error) {
			return client.SubmitJob(ctx, "txt2video", payload)
		})
	}
}

func (r *Registry) imageToVideoHandler(price bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		firstFrame, err := request.RequireString("first_frame_image")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		name, data, err := resolveMedia(ctx, firstFrame, "image")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		files := []deapi.FormFile{{Field: "first_frame_image", Name: name, Data: data}}

		if lastFrame := request.GetString("last_frame_image", ""); lastFrame != "" {
			lastName, lastData, err := resolveMedia(ctx, lastFrame, "image")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			files = append(files, deapi.FormFile{Field: "last_frame_image", Name: lastName, Data: lastData})
		}

		params, err := videoGenerationParams(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fields := make(map[string]string, len(params)+1)
		for key, value := range params {
			fields[key] = formField(value)
		}
		if prompt := request.GetString("prompt", ""); prompt != "" {
			fields["prompt"] = prompt
		}

		if price {
			return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
				return client.CalculatePriceForm(ctx, "img2video", fields, files)
			})
		}
		return r.runJob(ctx, request, "video", func(ctx context.Context, client *deapi.Client) (*deapi.Job, error) {
			return client.SubmitJobForm(ctx, "img2video", fields, files)
		})
	}
}
