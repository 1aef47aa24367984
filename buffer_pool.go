// Copyright 2021-2022 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import "sync"

// chunkBufferPool recycles the read buffers an httpRequestProducer's pump
// uses to pull chunks off a request body, the same role
// connectrpc.com/connect's bufferPool plays for marshaling buffers: avoid
// an allocation per read where a freelist will do.
type chunkBufferPool struct {
	sync.Pool
}

func newChunkBufferPool(chunkSize int) *chunkBufferPool {
	return &chunkBufferPool{
		Pool: sync.Pool{
			New: func() any {
				buf := make([]byte, chunkSize)
				return &buf
			},
		},
	}
}

func (p *chunkBufferPool) Get() *[]byte {
	return p.Pool.Get().(*[]byte)
}

func (p *chunkBufferPool) Put(buf *[]byte) {
	p.Pool.Put(buf)
}
