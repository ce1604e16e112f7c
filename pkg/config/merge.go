package config

// mergePlaybooks merges built-in and user-defined playbook configurations.
// User-defined playbooks override built-in ones with the same pack id.
func mergePlaybooks(builtinPlaybooks map[string]PlaybookConfig, userPlaybooks map[string]PlaybookConfig) map[string]*PlaybookConfig {
	result := make(map[string]*PlaybookConfig)

	for id, pb := range builtinPlaybooks {
		pbCopy := pb
		result[id] = &pbCopy
	}

	for id, userPb := range userPlaybooks {
		pbCopy := userPb
		result[id] = &pbCopy
	}

	return result
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig)

	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}
