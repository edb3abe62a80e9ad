// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/util"
)

// Legacy key=value file names.
const (
	LLMFileName = "lmapiconf.txt"
	BotFileName = "botconfig.txt"
)

// =============================================================================
// PATH DISCOVERY
// =============================================================================

// SearchDirs returns the directories searched for configuration and prompt
// files, in order.
func SearchDirs() []string {
	return []string{".", "..", filepath.Join("..", ".."), "src"}
}

// FindFile returns the first existing file among names in dirs (SearchDirs
// when nil). Names are tried in order within each directory.
func FindFile(dirs []string, names ...string) (string, bool) {
	if dirs == nil {
		dirs = SearchDirs()
	}
	for _, dir := range dirs {
		for _, name := range names {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, true
			}
		}
	}
	return "", false
}

// =============================================================================
// KEY=VALUE FILES
// =============================================================================

// ParseKeyValue reads KEY=VALUE lines. Blank lines and lines starting with
// '#' are skipped, a leading BOM is dropped, and values may be quoted.
func ParseKeyValue(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make(map[string]string)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if lineNo == 1 {
			line = util.StripBOM(line)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, lineNo)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		values[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return values, nil
}

// loadLegacyFiles applies lmapiconf.txt and botconfig.txt when present.
func (c *Config) loadLegacyFiles() error {
	if path, ok := FindFile(nil, LLMFileName); ok {
		values, err := ParseKeyValue(path)
		if err != nil {
			return apperr.Configuration(LLMFileName, err.Error())
		}
		if err := c.applyLLMValues(path, values); err != nil {
			return err
		}
		c.Sources = append(c.Sources, path)
	}
	if path, ok := FindFile(nil, BotFileName); ok {
		values, err := ParseKeyValue(path)
		if err != nil {
			return apperr.Configuration(BotFileName, err.Error())
		}
		c.checkPermissions(path)
		c.applyBotValues(values)
		c.Sources = append(c.Sources, path)
	}
	return nil
}

// applyLLMValues maps lmapiconf.txt keys. Malformed numbers are
// configuration errors naming the key.
func (c *Config) applyLLMValues(path string, v map[string]string) error {
	bad := func(key, value string) error {
		return apperr.Configuration(key, fmt.Sprintf("%s: invalid value %q", path, value))
	}

	if s, ok := v["LM_STUDIO_BASE_URL"]; ok {
		c.LLM.BaseURL = s
	}
	if s, ok := v["DEFAULT_MODEL"]; ok {
		c.LLM.Model = s
	}
	if s, ok := v["DEFAULT_REASON_MODEL"]; ok {
		c.LLM.ReasonModel = s
	}
	if s, ok := v["DEFAULT_VISION_MODEL"]; ok {
		c.LLM.VisionModel = s
	}
	if s, ok := v["DEFAULT_SUMMARIZATION_MODEL"]; ok {
		c.LLM.SummarizationModel = s
	}
	if s, ok := v["DEFAULT_RANKING_MODEL"]; ok {
		c.LLM.RankingModel = s
	}
	if s, ok := v["LM_STUDIO_TIMEOUT"]; ok {
		d, err := ParseDuration(s)
		if err != nil {
			return bad("LM_STUDIO_TIMEOUT", s)
		}
		c.LLM.Timeout = Duration{d}
	}
	if s, ok := v["DEFAULT_TEMPERATURE"]; ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return bad("DEFAULT_TEMPERATURE", s)
		}
		c.LLM.Temperature = &f
	}
	if s, ok := v["DEFAULT_MAX_TOKENS"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return bad("DEFAULT_MAX_TOKENS", s)
		}
		c.LLM.MaxTokens = n
	}
	if s, ok := v["DEFAULT_SEED"]; ok && s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return bad("DEFAULT_SEED", s)
		}
		c.LLM.Seed = &n
	}
	if s, ok := v["MAX_DISCORD_MESSAGE_LENGTH"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return bad("MAX_DISCORD_MESSAGE_LENGTH", s)
		}
		c.Relay.MessageLimit = n
	}
	if s, ok := v["RESPONSE_FORMAT_PADDING"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return bad("RESPONSE_FORMAT_PADDING", s)
		}
		c.Relay.Padding = n
	}
	return nil
}

func (c *Config) applyBotValues(v map[string]string) {
	if s, ok := v["DISCORD_TOKEN"]; ok {
		c.Discord.Token = s
	}
	if s, ok := v["PREFIX"]; ok && s != "" {
		c.Discord.Prefix = s
	}
	if s, ok := v["BOT_OWNER_ID"]; ok {
		c.Discord.OwnerID = s
	}
	if s, ok := v["BOT_USER_ID"]; ok {
		c.Discord.BotUserID = s
	}
	if s, ok := v["SERPAPI_KEY"]; ok {
		c.Search.SerpAPIKey = s
	}
}
