package analyzer

import (
	"fmt"
	"strings"
)

const answerPrompt = `Based on the provided video, select or provide the correct answer for the user question. Break down your reasoning into clear, logical steps, and arrive at the most accurate answer.

To ensure accuracy, follow this step-by-step reasoning process:
1. Restate or reframe the question for clarity.
2. Consider key events, actions, or objects relevant to the question.
3. If answer options are provided, assess each option in relation to the video's content. If no options are given, logically derive an answer.
4. Provide a clear and concise response based on your reasoning.

You must provide the index of the selected answer or the answer itself, and a brief explanation of your reasoning.

`

const captionsPrompt = `Based on the provided video and the given question (and answer options if available), capture a list of the main timeframes in the video in the format <<mm0:ss0,mm1:ss1>>: {description}, where 'description' is a detailed description of what is happening in that particular timeframe.

Follow these steps to generate your response:
1. Carefully analyze the question and the video content to identify the key events or actions that are relevant to the question.
2. Identify key events, actions, or transitions that represent meaningful changes or notable moments in the video.
3. Break the video into distinct timeframes where these events occur.
4. For each identified timeframe, provide a clear, detailed description of the action or scene in that segment.
5. Ensure that each description is specific, concise, and accurately reflects the action within the timeframe.
`

const targetsPrompt = `Based on the provided video and the given question (and answer options if available), your task is to capture a **list of objects/targets** that are involved in the video and are relevant to the question. These targets will be used for open-vocabulary object detection and grounding. Please follow these steps:

1. Understand the question and its context within the video, along with any answer options provided.
2. Focus on the most relevant objects or targets that are involved in the video's key actions or scenes. Ensure that these targets directly relate to the question.
3. Choose no more than 4 targets, ideally 3 or fewer. Consider only the objects that are clearly present and essential to answering the question, and that are not too complex to identify (not too large as well), but not too general for the particular video.
4. Ensure that the targets are also directly related to the answer options, if provided.
5. Provide a short list of targets, ensuring each description is clear and relevant (e.g., 'player in white outfit', 'spoon', etc.).
`

const scopedPrompt = `Based on the provided video, answer the user question in the VERY SPECIFIC given timeframe.

Only provide the final, concise answer, directly related to the question.
Base your answer ONLY on the information in the video, and do not add any information. If the answer is not present in the video, state 'unanswerable'. For example, if the question is 'What color is the car?', and the car is not shown in the video timeframe, the answer should be 'unanswerable'.
`

const reconcilePrompt = `You will be provided with reasoning for an answer to a question, along with two grounding pieces of information:
1. **Video-extracted grounding captions**: These describe the key events and timeframes within the video (e.g., <<mm0:ss0,mm1:ss1>>: {description}).
2. **Object grounding**: This identifies the specific objects/targets and their appearances in different video timeframes.

Your task is to analyze if there is any disagreement between the grounding information (both the captions and object grounding) and the reasoning for the answer. Disagreements may occur if the reasoning implies events or objects appearing in timeframes that are inconsistent with the grounding.

Please output a "disagree" boolean indicating if there is any disagreement at all, and a detailed but concise explanation of the specific timeframes where the grounding information does not align with the reasoning. Only include timeframes where discrepancies occur, and keep the explanation short but clear. If no disagreement is found, simply explain that there is no disagreement.

Disagreements should be highlighted by timeframe (<<mm0:ss0,mm1:ss1>>) and why the reasoning conflicts with the provided grounding information.
`

const questionsPrompt = `You will be provided the following:
1. A question (and answer options if available) related to a video.
2. A text explaining the set of discrepancies found in previous studies of the video. These indicate specific timeframes in the video where the grounding information does not align with the reasoning. These timeframes and the reasons for the discrepancies are provided.

Your task is to generate a set of up to 3 concise questions to ask a video model to clarify and provide a more grounded, precise answer. The goal is to resolve the discrepancies and improve the grounding for the question at hand.

- Each question should focus on a specific timeframe where a discrepancy was found.
- Each question should be concise and relevant to the timeframe, and particularly relevant to answer the question.
- Ensure that each question includes the timeframe where the clarification is needed, formatted as <<mm0:ss0,mm1:ss1>>.
- The timeframe must be very precise in time, covering only the specific segment where the discrepancy occurred.
- Do not include any unnecessary details, just the specific query for clarification.
- If there are not CONSIDERABLE discrepancies, you may return an empty list!

Generate between 0 and up to 3 questions based on the discrepancies identified.
`

const finalPrompt = `You will be provided the following:
1. A question (and answer options if available) related to a video.
2. An initial reasoning made for a possible answer, along with an explanation of why it was chosen. This reasoning was done BEFORE knowing the grounding information, and clarification questions.
3. The **grounding information**:
    - **Video grounding**: Timeframes and event descriptions from the video.
    - **Object grounding**: Objects/targets identified in the video and their corresponding appearing timeframes.
4. A set of clarification questions asked about discrepancies in the grounding, and their responses.

Your task is to:
1. Analyze all the provided information and reasoning.
2. Select or provide the correct answer for the user question, based on the new clarifications from the questions and grounding data.
3. Provide the final, most accurate specific answer, as well as a reasoning for it.

Remember to stick to the information provided, and ensure that your answer is accurate and well-supported by the grounding information and reasoning provided. If none of the answer options are correct, select the most appropriate based on the new information and reasoning.

`

// questionText renders the question block shared by every call.
func questionText(question string, options []string) string {
	if len(options) == 0 {
		return "- **Question**: " + question
	}
	lines := make([]string, len(options))
	for i, o := range options {
		lines[i] = fmt.Sprintf("%d. %s", i, o)
	}
	return fmt.Sprintf("- **Question**: %s\n- **Possible answers**:\n%s", question, strings.Join(lines, "\n"))
}

func reconcileText(reasoning string, captions []string, grounding string) string {
	return fmt.Sprintf("- **Reasoning**: %s\n- **Video-extracted grounding captions**:\n%s\n- **Object grounding**:\n%s\n",
		reasoning, strings.Join(captions, "\n"), grounding)
}

func questionsText(prompt, discrepancies, duration string) string {
	return fmt.Sprintf("%s\n- **Discrepancies**:\n%s\n- **Video duration**: %s\n", prompt, discrepancies, duration)
}

// qaPair is one answered clarification question
type qaPair struct {
	Question string
	Answer   string
}

// finalText renders the finalization request. The clarification section is
// omitted entirely when clarification did not run.
func finalText(prompt, reasoning string, captions []string, grounding string, qa []qaPair, clarified bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n- **Reasoning**: %s\n- **Video-extracted grounding captions**:\n%s\n- **Object grounding**:\n%s\n",
		prompt, reasoning, strings.Join(captions, "\n"), grounding)
	if clarified {
		sb.WriteString("- **Clarification Questions already answered**:\n")
		lines := make([]string, len(qa))
		for i, p := range qa {
			lines[i] = fmt.Sprintf("- %s - %s", p.Question, p.Answer)
		}
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}
