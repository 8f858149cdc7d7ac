package chunk

import "convmem/internal/pipelineerr"

func chunkTooLargeErr(convID string) error {
	return pipelineerr.New(pipelineerr.KindValidation, "conversation "+convID+" has a message exceeding maxTokensPerChunk; no strategy can preserve message boundaries")
}
