package calcserver

// Coordinates is a point in the wire format of the calculation service.
type Coordinates struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// SimpleBatch submits every simple model of an analysis at once.
type SimpleBatch struct {
	Profiles map[string]int `json:"profiles"`
	IPP      Coordinates    `json:"ipp"`
	RP       Coordinates    `json:"rp"`
	Models   []string       `json:"models"`
}

// Contribution is a computed simple model feeding a complex model.
type Contribution struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
}

// ComplexBatch submits every complex model of an analysis at once. ModelWeights
// maps complex model name to simple model name to contribution.
type ComplexBatch struct {
	ModelWeights    map[string]map[string]Contribution `json:"model_weights"`
	ComplexAnalyses []string                           `json:"complex_analyses"`
}

// Result is the polled state of one remote computation. LayerIDs is only
// populated once the status is finished.
type Result struct {
	Status   string   `json:"status"`
	LayerIDs []string `json:"layer_ids,omitempty"`
}
