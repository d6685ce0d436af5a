package backend

import "pixi.build/dispatcher/model"

// Capabilities is the backend's response to initialize: its negotiated
// protocol version and which of the closed RPC surface's optional
// procedures it supports.
type Capabilities struct {
	ProtocolVersion  int  `json:"protocolVersion"`
	SupportsOutputs  bool `json:"supportsOutputs"`
	SupportsNullName bool `json:"supportsNullName"`
}

// initializeParams is sent once per backend process, carrying everything
// from model.InitParams the backend needs to configure itself.
type initializeParams struct {
	ManifestPath  string                 `json:"manifestPath"`
	WorkspaceRoot string                 `json:"workspaceRoot"`
	SourceDir     string                 `json:"sourceDir"`
	Project       *model.ProjectModel    `json:"project,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// OutputsRequest is the params object for conda/outputs.
type OutputsRequest struct {
	Channels      []string          `json:"channels"`
	HostPlatform  string            `json:"hostPlatform"`
	BuildPlatform string            `json:"buildPlatform"`
	Variants      map[string]string `json:"variants,omitempty"`
	WorkDirectory string            `json:"workDirectory"`
}

// OutputsResponse is conda/outputs' (and conda/getMetadata's, flattened)
// result: the outputs a source produces and the input globs its metadata
// is sensitive to.
type OutputsResponse struct {
	Outputs    []model.CondaOutput `json:"outputs"`
	InputGlobs []string            `json:"inputGlobs"`
}

// BuildRequest is the params object for conda/build v1.
type BuildRequest struct {
	OutputName      string   `json:"outputName"`
	Channels        []string `json:"channels"`
	WorkDirectory   string   `json:"workDirectory"`
	OutputDirectory string   `json:"outputDirectory"`
}

// BuildResponse is conda/build v1's result: the built artifact's path and
// the input globs the build was sensitive to.
type BuildResponse struct {
	ArtifactPath string   `json:"artifactPath"`
	InputGlobs   []string `json:"inputGlobs"`
}
