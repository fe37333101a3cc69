/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package emit

import (
	"strconv"
	"strings"

	"vnforge/internal/graph"
	"vnforge/internal/schema"
)

// leaf writes the template of a non-branching block.
func (e *Emitter) leaf(s *graph.Scene, b graph.Block) {
	p := b.Params
	switch b.Kind {
	case schema.Say:
		e.say(b)
	case schema.Narration:
		if t := p.String("text"); t != "" {
			e.w.line("%s", quote(t)+opt(" with ", p.String("with_transition")))
		}
	case schema.Center:
		if t := p.String("text"); t != "" {
			e.w.line("centered %s", quote(t))
		}
	case schema.Text:
		if t := p.String("text"); t != "" {
			e.w.line("text %s%s%s", quote(t), opt(" xpos ", p.String("xpos")), opt(" ypos ", p.String("ypos")))
		}
	case schema.Jump, schema.Call:
		if target := p.String("target"); target != "" {
			e.reference(s, b, b.Kind.String(), target)
		}
	case schema.Return:
		e.w.line("return")
	case schema.Scene:
		bg := e.param(b, "background")
		e.w.line("scene %s%s%s", bg, opt(" onlayer ", p.String("layer")), opt(" with ", p.String("transition")))
	case schema.Show:
		if c := p.String("character"); c != "" {
			e.w.line("show %s%s%s%s%s%s%s", c,
				opt(" ", p.String("expression")),
				opt(" at ", p.String("at")),
				opt(" behind ", p.String("behind")),
				opt(" zorder ", p.String("zorder")),
				opt(" onlayer ", p.String("layer")),
				opt(" with ", p.String("transition")))
		}
	case schema.Hide:
		if c := p.String("character"); c != "" {
			e.w.line("hide %s%s%s", c, opt(" onlayer ", p.String("layer")), opt(" with ", p.String("transition")))
		}
	case schema.Image:
		name, path := p.String("name"), e.file(b, "path")
		if name != "" && path != "" {
			e.w.line("image %s = %s", name, quote(path))
		}
	case schema.Pause:
		d := e.param(b, "duration")
		if _, err := strconv.ParseFloat(d, 64); err != nil {
			d = "1.0"
		}
		e.w.line("$ renpy.pause(%s)", d)
	case schema.Transition, schema.With:
		e.w.line("with %s", e.param(b, "transition"))
	case schema.Sound, schema.Music, schema.QueueMusic, schema.QueueSound:
		e.audio(b)
	case schema.StopMusic:
		e.w.line("stop music%s", opt(" fadeout ", p.String("fadeout")))
	case schema.StopSound:
		e.w.line("stop sound%s", opt(" fadeout ", p.String("fadeout")))
	case schema.Voice:
		if f := e.file(b, "voice_file"); f != "" {
			e.w.line("voice %s", quote(f))
		}
	case schema.SetVar:
		if v := p.String("variable"); v != "" {
			e.w.line("$ %s = %s", v, formatValue(p.String("value")))
		}
	case schema.Default:
		if v := p.String("variable"); v != "" {
			e.w.line("default %s = %s", v, formatValue(p.String("value")))
		}
	case schema.Define:
		if n := p.String("name"); n != "" {
			e.w.line("define %s = %s", n, formatValue(p.String("value")))
		}
	case schema.Python:
		e.python(p.Raw("code"))
	case schema.Character:
		if n := p.String("name"); n != "" {
			e.w.line("define %s = %s", n, character(p.String("display_name")))
		}
	}
}

func (e *Emitter) say(b graph.Block) {
	p := b.Params
	text := p.String("text")
	if text == "" {
		return
	}
	who := p.String("who")
	if who == "" {
		e.w.line("%s", quote(text))
		return
	}
	e.w.line("%s%s %s%s%s", e.speaker(who), opt(" ", p.String("expression")), quote(text),
		opt(" at ", p.String("at")), opt(" with ", p.String("with_transition")))
}

func (e *Emitter) audio(b graph.Block) {
	p := b.Params
	var verb, channel, key string
	switch b.Kind {
	case schema.Sound:
		verb, channel, key = "play", "sound", "sound_file"
	case schema.Music:
		verb, channel, key = "play", "music", "music_file"
	case schema.QueueMusic:
		verb, channel, key = "queue", "music", "music_file"
	case schema.QueueSound:
		verb, channel, key = "queue", "sound", "sound_file"
	}
	f := e.file(b, key)
	if f == "" {
		return
	}
	var sb strings.Builder
	sb.WriteString(verb + " " + channel + " " + quote(f))
	sb.WriteString(opt(" fadein ", p.String("fadein")))
	if b.Kind != schema.QueueMusic && b.Kind != schema.QueueSound {
		sb.WriteString(opt(" fadeout ", p.String("fadeout")))
	}
	if _, declared := e.spec(b.Kind).Param("loop"); declared {
		loop := isTrue(e.param(b, "loop"))
		switch {
		case loop:
			sb.WriteString(" loop")
		case b.Kind == schema.Music:
			sb.WriteString(" noloop")
		}
	}
	e.w.line("%s", sb.String())
}

func (e *Emitter) python(code string) {
	lines := dedent(code)
	if len(lines) == 0 {
		return
	}
	e.w.line("python:")
	e.w.indent()
	for _, l := range lines {
		if l == "" {
			e.w.blank()
			continue
		}
		e.w.line("%s", l)
	}
	e.w.dedent()
}

func (e *Emitter) spec(k schema.Kind) *schema.KindSpec {
	if s, ok := e.opts.Catalog.Spec(k); ok {
		return s
	}
	return &schema.KindSpec{Kind: k}
}

// param returns a parameter or its catalog default.
func (e *Emitter) param(b graph.Block, key string) string {
	if v := b.Params.String(key); v != "" {
		return v
	}
	return e.opts.Catalog.DefaultValue(b.Kind, key)
}

// file resolves a file parameter through the asset resolver.
func (e *Emitter) file(b graph.Block, key string) string {
	category := ""
	if p, ok := e.spec(b.Kind).Param(key); ok {
		category = p.Asset
	}
	return e.assets.Resolve(b.Params.String(key), category)
}

func opt(prefix, v string) string {
	if v == "" {
		return ""
	}
	return prefix + v
}
