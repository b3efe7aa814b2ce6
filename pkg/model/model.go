package model

// Model is what gets persisted: the trained NCEM and how to rebuild its inputs.
type Model struct {
	MetaData *Metadata
	NCEM     *LinearNCEM
}
