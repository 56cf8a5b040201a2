package zap

// Alert is one entry of /JSON/core/view/alerts.
type Alert struct {
	ID          string `json:"id"`
	PluginID    string `json:"pluginId"`
	Alert       string `json:"alert"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Risk        string `json:"risk"`
	Confidence  string `json:"confidence"`
	URL         string `json:"url"`
	Param       string `json:"param"`
	Attack      string `json:"attack"`
	Evidence    string `json:"evidence"`
	Solution    string `json:"solution"`
	Reference   string `json:"reference"`
	CWEID       string `json:"cweid"`
}

// Title returns the alert name, preferring the newer "name" field.
func (a Alert) Title() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Alert != "" {
		return a.Alert
	}
	return "Unknown Vulnerability"
}

type versionResponse struct {
	Version string `json:"version"`
}

type contextResponse struct {
	ContextID string `json:"contextId"`
}

type actionResponse struct {
	Result string `json:"Result"`
}

type scanResponse struct {
	Scan string `json:"scan"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type alertsResponse struct {
	Alerts []Alert `json:"alerts"`
}
