// Package codec persists embedding collections.
//
// The format is the protobuf encoding of
//
//	message Embedding {
//	  repeated float values = 1 [packed=true];
//	  string text = 2;
//	  int64 timestamp = 3;
//	}
//
//	message EmbeddingCollection {
//	  repeated Embedding embeddings = 1;
//	  string model_name = 2;
//	  string model_version = 3;
//	  int32 dimension = 4;
//	}
//
// written with protowire rather than generated types. Because a protobuf
// message is a sequence of independent fields, a file can be produced
// incrementally: the Writer emits the header fields once and then appends
// one embeddings field per record. Any prefix that ends on a record boundary
// decodes as a valid, shorter collection, which is what makes streamed output
// safe to interrupt.
//
// Decoding accepts fields in any order (other encoders place the header after
// the records), skips unknown fields and accepts unpacked values.
package codec
