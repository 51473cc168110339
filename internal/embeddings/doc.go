// Package embeddings turns text into unit-length sentence embeddings.
//
// An Embedder drives a runner.Provider through a small state machine:
//
//	Uninitialized -> Initializing -> Ready
//	                              -> Failed -> Initializing ...
//
// Initialize acquires the model (retrying with exponential backoff), picks
// an accelerator and opens a pool of runners. Every embedding operation
// requires the Ready state.
//
// Each text is tokenized, run through the transformer, mean-pooled over the
// attention mask and L2-normalized. Errors are classified by two roots:
// ErrInit for initialization failures and ErrEmbed for everything else.
//
//	emb := embeddings.New(provider, embeddings.DefaultConfig())
//	if err := emb.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer emb.Close()
//	v, err := emb.EmbedText(ctx, "The cat sat.")
package embeddings
