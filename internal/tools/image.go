package tools

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"deapi-mcp/internal/deapi"
)

func (r *Registry) registerImageTools(srv *server.MCPServer) {
	txt2imgArgs := []mcp.ToolOption{
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Text description of the image to generate"),
		),
		mcp.WithString("model",
			mcp.Description("Image generation model"),
		),
		mcp.WithString("negative_prompt",
			mcp.Description("What the image must not contain"),
		),
		mcp.WithNumber("width",
			mcp.Description("Image width in pixels, 64-2048 (default 512)"),
		),
		mcp.WithNumber("height",
			mcp.Description("Image height in pixels, 64-2048 (default 512)"),
		),
		mcp.WithNumber("steps",
			mcp.Description("Diffusion steps, 1-100 (default 20)"),
		),
		mcp.WithNumber("guidance_scale",
			mcp.Description("Prompt adherence, 0-20 (default 7.5)"),
		),
		mcp.WithNumber("seed",
			mcp.Description("Random seed, -1 for random"),
		),
	}

	r.add(srv, mcp.NewTool("text_to_image",
		append([]mcp.ToolOption{mcp.WithDescription("Generate an image from a text prompt.")}, txt2imgArgs...)...),
		r.textToImageHandler(false))
	r.add(srv, mcp.NewTool("text_to_image_price",
		append([]mcp.ToolOption{mcp.WithDescription("Calculate the cost of a text_to_image job without running it.")}, txt2imgArgs...)...),
		r.textToImageHandler(true))

	img2imgArgs := []mcp.ToolOption{
		mcp.WithString("image",
			mcp.Required(),
			mcp.Description("Source image: data URI, URL or base64 data"),
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Text description of the desired transformation"),
		),
		mcp.WithString("model",
			mcp.Description("Image generation model"),
		),
		mcp.WithString("negative_prompt",
			mcp.Description("What the image must not contain"),
		),
		mcp.WithNumber("strength",
			mcp.Description("How strongly the prompt reshapes the source, 0-1 (default 0.8)"),
		),
		mcp.WithNumber("steps",
			mcp.Description("Diffusion steps, 1-100 (default 20)"),
		),
		mcp.WithNumber("guidance_scale",
			mcp.Description("Prompt adherence, 0-20 (default 7.5)"),
		),
		mcp.WithNumber("seed",
			mcp.Description("Random seed, -1 for random"),
		),
	}

	r.add(srv, mcp.NewTool("image_to_image",
		append([]mcp.ToolOption{mcp.WithDescription("Transform an existing image guided by a text prompt.")}, img2imgArgs...)...),
		r.imageToImageHandler(false))
	r.add(srv, mcp.NewTool("image_to_image_price",
		append([]mcp.ToolOption{mcp.WithDescription("Calculate the cost of an image_to_image job without running it.")}, img2imgArgs...)...),
		r.imageToImageHandler(true))

	simpleVariants := []struct {
		name     string
		endpoint string
		desc     string
		hasModel bool
	}{
		{
			name:     "image_to_text",
			endpoint: "img2txt",
			desc:     "Describe the content of an image in text.",
			hasModel: true,
		},
		{
			name:     "image_remove_background",
			endpoint: "img-rmbg",
			desc:     "Remove the background of an image.",
		},
		{
			name:     "image_upscale",
			endpoint: "img-upscale",
			desc:     "Upscale an image to a higher resolution.",
			hasModel: true,
		},
	}

	for _, v := range simpleVariants {
		args := []mcp.ToolOption{
			mcp.WithString("image",
				mcp.Required(),
				mcp.Description("Source image: data URI, URL or base64 data"),
			),
		}
		if v.hasModel {
			args = append(args, mcp.WithString("model",
				mcp.Description("Model to use"),
			))
		}

		r.add(srv, mcp.NewTool(v.name,
			append([]mcp.ToolOption{mcp.WithDescription(v.desc)}, args...)...),
			r.simpleImageHandler(v.endpoint, false))
		r.add(srv, mcp.NewTool(v.name+"_price",
			append([]mcp.ToolOption{mcp.WithDescription("Calculate the cost of the " + v.name + " operation without running it.")}, args...)...),
			r.simpleImageHandler(v.endpoint, true))
	}
}

func imageGenerationParams(request mcp.CallToolRequest) (map[string]interface{}, error) {
	width := request.GetFloat("width", 512)
	height := request.GetFloat("height", 512)
	steps := request.GetFloat("steps", 20)
	guidance := request.GetFloat("guidance_scale", 7.5)

	for _, check := range []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"width", width, 64, 2048},
		{"height", height, 64, 2048},
		{"steps", steps, 1, 100},
		{"guidance_scale", guidance, 0, 20},
	} {
		if err := validateRange(check.name, check.value, check.min, check.max); err != nil {
			return nil, err
		}
	}

	params := map[string]interface{}{
		"width":          int(width),
		"height":         int(height),
		"steps":          int(steps),
		"guidance_scale": guidance,
		"seed":           request.GetInt("seed", -1),
	}
	if model := request.GetString("model", ""); model != "" {
		params["model"] = model
	}
	if negative := request.GetString("negative_prompt", ""); negative != "" {
		params["negative_prompt"] = negative
	}
	return params, nil
}

func (r *Registry) textToImageHandler(price bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := request.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := imageGenerationParams(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload["prompt"] = prompt

		if price {
			return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
				return client.CalculatePrice(ctx, "txt2img", payload)
			})
		}
		return r.runJob(ctx, request, "image", func(ctx context.Context, client *deapi.Client) (*deapi.Job, error) {
			return client.SubmitJob(ctx, "txt2img", payload)
		})
	}
}

func (r *Registry) imageToImageHandler(price bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		image, err := request.RequireString("image")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		prompt, err := request.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		name, data, err := resolveMedia(ctx, image, "image")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		params, err := imageGenerationParams(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		strength := request.GetFloat("strength", 0.8)
		if err := validateRange("strength", strength, 0, 1); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		fields := map[string]string{
			"prompt":   prompt,
			"strength": strconv.FormatFloat(strength, 'f', -1, 64),
		}
		for key, value := range params {
			fields[key] = formField(value)
		}
		files := []deapi.FormFile{{Field: "image", Name: name, Data: data}}

		if price {
			return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
				return client.CalculatePriceForm(ctx, "img2img", fields, files)
			})
		}
		return r.runJob(ctx, request, "image", func(ctx context.Context, client *deapi.Client) (*deapi.Job, error) {
			return client.SubmitJobForm(ctx, "img2img", fields, files)
		})
	}
}

func (r *Registry) simpleImageHandler(endpoint string, price bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		image, err := request.RequireString("image")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		name, data, err := resolveMedia(ctx, image, "image")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		fields := map[string]string{}
		if model := request.GetString("model", ""); model != "" {
			fields["model"] = model
		}
		files := []deapi.FormFile{{Field: "image", Name: name, Data: data}}

		if price {
			return r.runQuery(ctx, func(ctx context.Context, client *deapi.Client) (interface{}, error) {
				return client.CalculatePriceForm(ctx, endpoint, fields, files)
			})
		}
		return r.runJob(ctx, request, "image", func(ctx context.Context, client *deapi.Client) (*deapi.Job, error) {
			return client.SubmitJobForm(ctx, endpoint, fields, files)
		})
	}
}

// formField stringifies a JSON-ish value for a multipart form. Booleans go
// out lowercase, floats without a forced exponent.
func formField(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case int:
		return strconv.Itoa(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", value)
	}
}
