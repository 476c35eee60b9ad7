package service

// RedirectRule - правило мягкой подмены ноды ("soft gate"). Если игрок
// приходит в FromNodeID, не подняв ни одного флага из UnlessAnyFlag,
// он незаметно перенаправляется в ToNodeID.
type RedirectRule struct {
	FromNodeID    string
	ToNodeID      string
	UnlessAnyFlag []string
}

// DefaultRedirectRules возвращает таблицу правил оригинальной истории:
// нода с данными сенсоров требует побывать в серверной или медотсеке,
// иначе игрока уводит на ноду, закрывающую пробел в знаниях.
// Набор правил намеренно не расширяется без продуктового решения.
func DefaultRedirectRules() []RedirectRule {
	return []RedirectRule{
		{
			FromNodeID:    "access_sensor_logs",
			ToNodeID:      "bridge_knowledge_gap",
			UnlessAnyFlag: []string{"visitedServerRoom", "visitedMedBay"},
		},
	}
}

// DefaultFlagEffects возвращает таблицу побочных эффектов выбора:
// переход в указанную ноду поднимает булев флаг состояния игрока.
func DefaultFlagEffects() map[string]string {
	return map[string]string{
		"go_to_server_room": "visitedServerRoom",
		"go_to_med_bay":     "visitedMedBay",
	}
}

// applyRedirects применяет правила как чистую функцию (nodeID, flags) -> nodeID.
// Подмена выполняется до учета истории посещений.
func applyRedirects(rules []RedirectRule, nodeID string, flags map[string]bool) string {
	for _, rule := range rules {
		if rule.FromNodeID != nodeID {
			continue
		}
		gateOpen := false
		for _, flag := range rule.UnlessAnyFlag {
			if flags[flag] {
				gateOpen = true
				break
			}
		}
		if !gateOpen {
			return rule.ToNodeID
		}
	}
	return nodeID
}
