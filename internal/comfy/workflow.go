package comfy

import (
	"encoding/json"
	"fmt"
)

// Node is one operation in a workflow graph. Inputs hold either literal
// parameter values or two-element [nodeID, outputIndex] references to other
// nodes' outputs.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Workflow is a job graph keyed by node id. The graph shape is static and
// acyclic by construction; only leaf parameter values vary per request.
type Workflow map[string]*Node

// Node ids in the fixed generation graph. The node types and their required
// fields are ComfyUI's vocabulary and must be matched exactly.
const (
	nodePositivePrompt = "6"
	nodeNegativePrompt = "7"
	nodeSampler        = "3"
	nodeVAEDecode      = "8"
	nodeUNETLoader     = "37"
	nodeCLIPLoader     = "38"
	nodeVAELoader      = "39"
	nodeEmptyLatent    = "58"
	nodeSaveImage      = "60"
	nodeModelSampling  = "66"
	nodeLoraLoader     = "75"
)

// JobParams are the per-request leaf values substituted into the template.
type JobParams struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	Seed           int64
}

// template is the fixed text-to-image graph: scaled FP8 base model with a
// 4-step Lightning LoRA, decoded and saved by the backend.
var template = Workflow{
	nodePositivePrompt: {
		ClassType: "CLIPTextEncode",
		Inputs: map[string]any{
			"text": "",
			"clip": []any{nodeCLIPLoader, 0},
		},
	},
	nodeNegativePrompt: {
		ClassType: "CLIPTextEncode",
		Inputs: map[string]any{
			"text": "",
			"clip": []any{nodeCLIPLoader, 0},
		},
	},
	nodeSampler: {
		ClassType: "KSampler",
		Inputs: map[string]any{
			"seed":         int64(0),
			"steps":        4,
			"cfg":          1.0,
			"sampler_name": "euler",
			"scheduler":    "simple",
			"denoise":      1.0,
			"model":        []any{nodeModelSampling, 0},
			"positive":     []any{nodePositivePrompt, 0},
			"negative":     []any{nodeNegativePrompt, 0},
			"latent_image": []any{nodeEmptyLatent, 0},
		},
	},
	nodeVAEDecode: {
		ClassType: "VAEDecode",
		Inputs: map[string]any{
			"samples": []any{nodeSampler, 0},
			"vae":     []any{nodeVAELoader, 0},
		},
	},
	nodeUNETLoader: {
		ClassType: "UNETLoader",
		Inputs: map[string]any{
			"unet_name":    "qwen_image_fp8_e4m3fn_scaled.safetensors",
			"weight_dtype": "fp8_e4m3fn",
		},
	},
	nodeCLIPLoader: {
		ClassType: "CLIPLoader",
		Inputs: map[string]any{
			"clip_name": "qwen_2.5_vl_7b_fp8_scaled.safetensors",
			"type":      "qwen_image",
		},
	},
	nodeVAELoader: {
		ClassType: "VAELoader",
		Inputs: map[string]any{
			"vae_name": "qwen_image_vae.safetensors",
		},
	},
	nodeEmptyLatent: {
		ClassType: "EmptyLatentImage",
		Inputs: map[string]any{
			"width":      1024,
			"height":     1024,
			"batch_size": 1,
		},
	},
	nodeSaveImage: {
		ClassType: "SaveImage",
		Inputs: map[string]any{
			"filename_prefix": "fictures",
			"images":          []any{nodeVAEDecode, 0},
		},
	},
	nodeModelSampling: {
		ClassType: "ModelSamplingAuraFlow",
		Inputs: map[string]any{
			"shift": 3.0,
			"model": []any{nodeLoraLoader, 0},
		},
	},
	nodeLoraLoader: {
		ClassType: "LoraLoaderModelOnly",
		Inputs: map[string]any{
			"lora_name":      "Qwen-Image-Lightning-4steps-V2.0.safetensors",
			"strength_model": 1.0,
			"model":          []any{nodeUNETLoader, 0},
		},
	},
}

// BuildWorkflow deep-copies the template and substitutes the request's
// parameters into the prompt, sampler, and latent nodes.
func BuildWorkflow(p *JobParams) (Workflow, error) {
	// Deep copy through JSON so per-request mutation never touches the template.
	raw, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("failed to copy workflow template: %w", err)
	}
	var wf Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("failed to copy workflow template: %w", err)
	}

	wf[nodePositivePrompt].Inputs["text"] = p.Prompt
	wf[nodeNegativePrompt].Inputs["text"] = p.NegativePrompt

	wf[nodeSampler].Inputs["seed"] = p.Seed
	wf[nodeSampler].Inputs["steps"] = p.Steps
	wf[nodeSampler].Inputs["cfg"] = p.GuidanceScale

	wf[nodeEmptyLatent].Inputs["width"] = p.Width
	wf[nodeEmptyLatent].Inputs["height"] = p.Height

	return wf, nil
}
