/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package profile

import (
	"strings"

	"github.com/spf13/viper"
)

// Load reads a ProfileConfig from path (any format viper supports: yaml,
// json, toml, …), overlaying environment variables prefixed NETENGINE_,
// matching the teacher's config package's viper wiring.
func Load(path string) (ProfileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("NETENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	applyDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return ProfileConfig{}, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return ProfileConfig{}, err
	}
	return cfg, cfg.Validate()
}

func applyDefaults(v *viper.Viper, cfg ProfileConfig) {
	v.SetDefault("stream_mode", int(cfg.StreamMode))
	v.SetDefault("datagram_mode", int(cfg.DatagramMode))
	v.SetDefault("num_operations", cfg.NumOperations)
	v.SetDefault("send_memory_cap", cfg.SendMemoryCap)
	v.SetDefault("recv_memory_cap", cfg.RecvMemoryCap)
	v.SetDefault("recycle_packets", cfg.RecyclePackets)
	v.SetDefault("recycle_per_cap", cfg.RecyclePerCap)
	v.SetDefault("handshake_timeout_ms", cfg.HandshakeTimeoutMS)
	v.SetDefault("send_timeout_ms", cfg.SendTimeoutMS)
	v.SetDefault("connect_timeout_ms", cfg.ConnectTimeoutMS)
	v.SetDefault("graceful_disconnect", cfg.GracefulDisconnect)
	v.SetDefault("num_threads", cfg.NumThreads)
}
